// Package alert implements the Slack alerting sinks: an authenticated
// Web API transport and an incoming-webhook transport. Both share the
// routing table and message layout and keep their own dedupe marker on
// the event.
package alert

import (
	"strings"

	"leakwatch.app/sentry/internal/model"
)

// Route picks a target for an event from a routing table. Precedence is
// rule over platform over severity; the fallback applies when no key
// matches. Rule keys match the primary detection label verbatim,
// platform and severity keys are lowercase.
func Route(routing map[string]string, fallback string, event *model.Event) string {
	keys := []string{
		"rule:" + event.PrimaryLabel(),
		"platform:" + strings.ToLower(event.Platform),
		"severity:" + strings.ToLower(string(event.Severity)),
	}
	for _, key := range keys {
		if target, ok := routing[key]; ok && strings.TrimSpace(target) != "" {
			return strings.TrimSpace(target)
		}
	}
	return fallback
}
