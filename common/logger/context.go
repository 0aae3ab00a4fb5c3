package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs
// within a context. Pipeline stages enrich the context once and every log
// line downstream carries the fingerprint, sink name and so on.
type LogFields struct {
	Fingerprint *string // event content fingerprint
	Platform    *string // source platform (gitlab, jira, ...)
	Sink        *string // delivery sink name (jira, glpi, slack_api, ...)
	WebhookID   *int64  // webhook subscription ID
	Destination *string // export destination key
	Component   string  // component name (e.g. "sentry.dispatch")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking
// precedence. Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.Fingerprint != nil {
		result.Fingerprint = next.Fingerprint
	}
	if next.Platform != nil {
		result.Platform = next.Platform
	}
	if next.Sink != nil {
		result.Sink = next.Sink
	}
	if next.WebhookID != nil {
		result.WebhookID = next.WebhookID
	}
	if next.Destination != nil {
		result.Destination = next.Destination
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging response bodies and snippets.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
