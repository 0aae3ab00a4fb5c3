package connector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/internal/model"
)

const gitlabPageSize = 50

// GitLabConnector scans issues and their notes in the configured projects.
type GitLabConnector struct {
	client   *gitlab.Client
	projects []string
	logger   *slog.Logger
}

func NewGitLabConnector(cfg config.GitLabConfig, log *slog.Logger) (*GitLabConnector, error) {
	if log == nil {
		log = slog.Default()
	}

	opts := []gitlab.ClientOptionFunc{}
	if cfg.BaseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(cfg.BaseURL))
	}
	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}

	return &GitLabConnector{
		client:   client,
		projects: cfg.Projects,
		logger:   log,
	}, nil
}

func (c *GitLabConnector) Platform() string { return "gitlab" }

func (c *GitLabConnector) Fetch(ctx context.Context, since *time.Time) ([]Item, error) {
	var items []Item
	for _, project := range c.projects {
		projectItems, err := c.fetchProject(ctx, project, since)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", project, err)
		}
		items = append(items, projectItems...)
	}
	return items, nil
}

func (c *GitLabConnector) fetchProject(ctx context.Context, project string, since *time.Time) ([]Item, error) {
	var items []Item

	opts := &gitlab.ListProjectIssuesOptions{
		UpdatedAfter: since,
		ListOptions:  gitlab.ListOptions{PerPage: gitlabPageSize},
	}

	for {
		issues, resp, err := c.client.Issues.ListProjectIssues(project, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}

		for _, issue := range issues {
			items = append(items, c.issueItem(project, issue))

			noteItems, err := c.fetchNotes(ctx, project, issue)
			if err != nil {
				// One unreadable discussion should not abort the project scan.
				c.logger.WarnContext(ctx, "skipping issue notes", "project", project, "issue_iid", issue.IID, "error", err)
				continue
			}
			items = append(items, noteItems...)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return items, nil
}

func (c *GitLabConnector) issueItem(project string, issue *gitlab.Issue) Item {
	modified := time.Now().UTC()
	if issue.UpdatedAt != nil {
		modified = issue.UpdatedAt.UTC()
	}

	meta := map[string]string{
		"pointer":     fmt.Sprintf("issue/%d", issue.IID),
		"modified_at": modified.Format(time.RFC3339),
		"project":     project,
	}
	if issue.Author != nil {
		meta["author_id"] = strconv.FormatInt(issue.Author.ID, 10)
		meta["author_name"] = issue.Author.Name
	}

	return Item{
		Container:  c.container(project, issue),
		Pointer:    meta["pointer"],
		Text:       issue.Title + "\n" + issue.Description,
		ModifiedAt: modified,
		Meta:       meta,
	}
}

func (c *GitLabConnector) fetchNotes(ctx context.Context, project string, issue *gitlab.Issue) ([]Item, error) {
	var items []Item

	opts := &gitlab.ListIssueNotesOptions{
		ListOptions: gitlab.ListOptions{PerPage: gitlabPageSize},
	}
	for {
		notes, resp, err := c.client.Notes.ListIssueNotes(project, issue.IID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, err
		}

		for _, note := range notes {
			if note.System {
				continue
			}
			modified := time.Now().UTC()
			if note.UpdatedAt != nil {
				modified = note.UpdatedAt.UTC()
			}
			items = append(items, Item{
				Container:  c.container(project, issue),
				Pointer:    fmt.Sprintf("issue/%d/note/%d", issue.IID, note.ID),
				Text:       note.Body,
				ModifiedAt: modified,
				Meta: map[string]string{
					"pointer":     fmt.Sprintf("issue/%d/note/%d", issue.IID, note.ID),
					"modified_at": modified.Format(time.RFC3339),
					"project":     project,
					"author_id":   strconv.FormatInt(note.Author.ID, 10),
					"author_name": note.Author.Name,
				},
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return items, nil
}

func (c *GitLabConnector) container(project string, issue *gitlab.Issue) model.Container {
	return model.Container{
		Type: "issue",
		ID:   fmt.Sprintf("%s#%d", project, issue.IID),
		Name: issue.Title,
		URL:  issue.WebURL,
	}
}
