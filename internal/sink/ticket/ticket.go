// Package ticket implements the ticketing sinks. Each sink creates at
// most one ticket per event; the stored ticket reference is the
// idempotency marker, written through a guarded update so concurrent
// dispatchers cannot double-file.
package ticket

import (
	"fmt"
	"regexp"
	"strings"

	"leakwatch.app/sentry/internal/model"
)

const snippetLimit = 800

func containerName(e *model.Event) string {
	if e.Container.Name != "" {
		return e.Container.Name
	}
	if e.Container.ID != "" {
		return e.Container.ID
	}
	return "-"
}

func containerURL(e *model.Event) string {
	if e.Container.URL != "" {
		return e.Container.URL
	}
	return "-"
}

func summaryFor(e *model.Event) string {
	return fmt.Sprintf("[Sentry] Sensitive data found: %s in %s/%s", e.PrimaryLabel(), e.Platform, containerName(e))
}

func dashboardLink(base, fingerprint string) string {
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s?fingerprint=%s", strings.TrimRight(base, "/"), fingerprint)
}

func descriptionFor(e *model.Event, dashboardBase string) string {
	snippet := e.SnippetRedacted
	if len(snippet) > snippetLimit {
		snippet = snippet[:snippetLimit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "When: %s\n", e.FoundAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "Where: %s / %s (%s)\n", e.Platform, containerName(e), containerURL(e))
	if author := e.SourceMeta["author_name"]; author != "" {
		fmt.Fprintf(&b, "Who: %s (%s)\n", author, e.SourceMeta["author_id"])
	}
	fmt.Fprintf(&b, "What: %s (severity %s)\n\n", e.PrimaryLabel(), e.Severity)
	fmt.Fprintf(&b, "Snippet (redacted):\n%s\n\n", snippet)
	b.WriteString("Recommended action: remove or rotate the secret, restrict access, update credentials.\n\n")
	fmt.Fprintf(&b, "Fingerprint: %s\n", e.Fingerprint)
	if link := dashboardLink(dashboardBase, e.Fingerprint); link != "" {
		fmt.Fprintf(&b, "Dashboard: %s\n", link)
	}
	return b.String()
}

var (
	labelSpaces  = regexp.MustCompile(`\s+`)
	labelInvalid = regexp.MustCompile(`[^a-z0-9_.-]`)
	labelRepeat  = regexp.MustCompile(`-{2,}`)
)

// labelify normalizes a string into a tracker-safe label: lowercase,
// no spaces, no exotic characters.
func labelify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = labelSpaces.ReplaceAllString(s, "-")
	s = labelInvalid.ReplaceAllString(s, "-")
	s = labelRepeat.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

func labelsFor(e *model.Event) []string {
	raw := []string{"data-leakage", "rule-" + e.PrimaryLabel(), e.Platform}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		l := labelify(r)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func meetsMinSeverity(e *model.Event, min model.Severity) bool {
	return e.Severity.Rank() >= min.Rank()
}
