package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"leakwatch.app/sentry/internal/model"
)

const snippetLimit = 900

func escape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func fallbackText(e *model.Event) string {
	return fmt.Sprintf("[Sentry] %s - %s", e.Severity, e.PrimaryLabel())
}

func author(e *model.Event) string {
	if a := e.SourceMeta["author_name"]; a != "" {
		return a
	}
	if a := e.SourceMeta["author_id"]; a != "" {
		return a
	}
	return "-"
}

// buildBlocks renders the shared Block Kit layout: header, context lines,
// redacted snippet, dashboard and source buttons, fingerprint footer.
func buildBlocks(e *model.Event, dashboardURL string) []slack.Block {
	containerName := e.Container.Name
	if containerName == "" {
		containerName = e.Container.ID
	}
	if containerName == "" {
		containerName = "-"
	}

	header := truncate(fmt.Sprintf(":rotating_light: %s - %s", e.Severity, e.PrimaryLabel()), 150)
	sub := fmt.Sprintf("*%s* / `%s`\n*When:* `%s`   *Who:* `%s`",
		e.Platform, escape(containerName), e.FoundAt.UTC().Format(time.RFC3339), escape(author(e)))
	snippet := fmt.Sprintf("*Snippet (redacted)*\n```%s```", escape(truncate(e.SnippetRedacted, snippetLimit)))

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, sub, false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, snippet, false, false), nil, nil),
	}

	var buttons []slack.BlockElement
	if dashboardURL != "" {
		btn := slack.NewButtonBlockElement("open_dashboard", e.Fingerprint,
			slack.NewTextBlockObject(slack.PlainTextType, "View in Dashboard", false, false))
		btn.URL = fmt.Sprintf("%s?fingerprint=%s", strings.TrimRight(dashboardURL, "/"), e.Fingerprint)
		buttons = append(buttons, btn)
	}
	if e.Container.URL != "" {
		btn := slack.NewButtonBlockElement("open_source", e.Fingerprint,
			slack.NewTextBlockObject(slack.PlainTextType, "View Source", false, false))
		btn.URL = e.Container.URL
		buttons = append(buttons, btn)
	}
	if len(buttons) > 0 {
		blocks = append(blocks, slack.NewActionBlock("alert_links", buttons...))
	}

	blocks = append(blocks, slack.NewContextBlock("alert_fingerprint",
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("`fingerprint:` `%s`", e.Fingerprint), false, false)))

	return blocks
}
