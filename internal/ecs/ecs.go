// Package ecs maps canonical events to the ECS-like wire schema consumed by
// webhook subscribers and SIEM exports. The mapping is a pure function of
// the event; external consumers depend on it being bit-stable.
package ecs

import (
	"time"

	"leakwatch.app/sentry/internal/model"
)

type EventFields struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Category []string `json:"category"`
	Type     []string `json:"type"`
	Severity int      `json:"severity"`
	Created  string   `json:"created"`
	Dataset  string   `json:"dataset"`
	Reason   string   `json:"reason"`
}

type Rule struct {
	Name string `json:"name"`
}

type Observer struct {
	Vendor string `json:"vendor"`
	Type   string `json:"type"`
}

type Service struct {
	Name string `json:"name"`
}

type User struct {
	Name string `json:"name,omitempty"`
}

type Source struct {
	Service Service `json:"service"`
	User    User    `json:"user,omitempty"`
	URL     string  `json:"url,omitempty"`
}

type Container struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Detail carries the full detection payload for consumers that need more
// than the ECS core fields.
type Detail struct {
	Platform        string            `json:"platform"`
	Severity        model.Severity    `json:"severity"`
	Detections      []model.Detection `json:"detections"`
	SnippetRedacted string            `json:"snippet_redacted"`
	Meta            map[string]string `json:"meta,omitempty"`
}

// Record is the canonical external representation of one event.
type Record struct {
	Timestamp string      `json:"timestamp"`
	Event     EventFields `json:"event"`
	Rule      Rule        `json:"rule"`
	Observer  Observer    `json:"observer"`
	Tags      []string    `json:"tags"`
	Source    Source      `json:"source"`
	Container Container   `json:"container"`
	Sentry    Detail      `json:"sentry"`
}

var severityCodes = map[model.Severity]int{
	model.SeverityLow:      2,
	model.SeverityMedium:   5,
	model.SeverityHigh:     8,
	model.SeverityCritical: 10,
}

// SeverityCode returns the numeric ECS severity for a level, defaulting to
// medium for unknown values.
func SeverityCode(s model.Severity) int {
	if code, ok := severityCodes[s]; ok {
		return code
	}
	return severityCodes[model.SeverityMedium]
}

// FromEvent converts an event to its wire record.
func FromEvent(ev *model.Event) Record {
	ts := ev.FoundAt.UTC().Format(time.RFC3339)
	primary := ev.PrimaryLabel()

	tags := []string{primary}
	if ev.Platform != "" && ev.Platform != primary {
		tags = append(tags, ev.Platform)
	}

	author := ev.SourceMeta["author_name"]
	if author == "" {
		author = ev.SourceMeta["author_id"]
	}

	return Record{
		Timestamp: ts,
		Event: EventFields{
			ID:       ev.Fingerprint,
			Kind:     "alert",
			Category: []string{"intrusion_detection", "data_leak"},
			Type:     []string{"info"},
			Severity: SeverityCode(ev.Severity),
			Created:  ts,
			Dataset:  "sentry.findings",
			Reason:   primary,
		},
		Rule:     Rule{Name: primary},
		Observer: Observer{Vendor: "Sentry", Type: "DLP"},
		Tags:     tags,
		Source: Source{
			Service: Service{Name: ev.Platform},
			User:    User{Name: author},
			URL:     ev.Container.URL,
		},
		Container: Container{
			ID:   ev.Container.ID,
			Name: ev.Container.Name,
			Type: ev.Container.Type,
		},
		Sentry: Detail{
			Platform:        ev.Platform,
			Severity:        ev.Severity,
			Detections:      ev.Detections,
			SnippetRedacted: ev.SnippetRedacted,
			Meta:            ev.SourceMeta,
		},
	}
}
