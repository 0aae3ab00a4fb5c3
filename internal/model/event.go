package model

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordering of a severity for threshold comparisons.
// Unknown values rank as medium.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return severityRank[SeverityMedium]
}

// Container is the addressable unit where a leak was found: a channel,
// a page, an issue, a card.
type Container struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Detection is one rule that fired on a piece of text. The first detection
// of an event is treated as primary.
type Detection struct {
	Label string `json:"label"`
	Match string `json:"match"`
}

// SlackRef records the channel and message timestamp of a posted alert.
type SlackRef struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// SyncStatus tracks which sinks have already handled an event. Each field is
// set at most once by its owning sink and doubles as that sink's idempotency
// marker.
type SyncStatus struct {
	State          string     `json:"state"`
	JiraKey        *string    `json:"jira_key,omitempty"`
	GLPIID         *string    `json:"glpi_id,omitempty"`
	SnowSysID      *string    `json:"snow_sys_id,omitempty"`
	Slack          *SlackRef  `json:"slack,omitempty"`
	SlackWebhookAt *time.Time `json:"slack_webhook_at,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
}

// Event is the canonical, deduplicated unit of detection. The fingerprint is
// a content hash; re-observing the same leak produces the same fingerprint
// and the store's insert-if-absent gate drops the duplicate.
type Event struct {
	Fingerprint     string            `json:"fingerprint"`
	Platform        string            `json:"platform"`
	Container       Container         `json:"container"`
	FoundAt         time.Time         `json:"found_at"`
	Severity        Severity          `json:"severity"`
	Detections      []Detection       `json:"detections"`
	SnippetRedacted string            `json:"snippet_redacted"`
	SourceMeta      map[string]string `json:"source_meta,omitempty"`
	Status          SyncStatus        `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
}

// PrimaryLabel returns the label of the first detection, or a fallback when
// the detection list is empty.
func (e *Event) PrimaryLabel() string {
	if len(e.Detections) > 0 {
		return e.Detections[0].Label
	}
	return "Sensitive Data"
}

// Labels returns every detection label in order.
func (e *Event) Labels() []string {
	out := make([]string, 0, len(e.Detections))
	for _, d := range e.Detections {
		out = append(out, d.Label)
	}
	return out
}
