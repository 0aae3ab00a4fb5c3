package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"leakwatch.app/sentry/internal/model"
)

const (
	// maskToken replaces every matched substring in the stored snippet.
	maskToken = "****"

	// maxSnippetLen bounds the redacted snippet kept on the event.
	maxSnippetLen = 900
)

// credentialPrefixes escalate severity to high when any detection label
// starts with one of them (case-insensitive). Table-driven so the mapping
// can grow without touching the normalizer contract.
var credentialPrefixes = []string{"password", "private", "api", "credit"}

// Normalize builds the canonical Event for a detection hit. The fingerprint
// is a pure function of platform, container id, the item pointer and the
// sorted set of matched strings, so re-scanning the same leak is a no-op at
// the dedup gate. The pointer must be stable between scans of the same
// source location.
func Normalize(platform string, container model.Container, pointer, text string, detections []Detection, sourceMeta map[string]string) *model.Event {
	matches := uniqueMatches(detections)

	basis := strings.Join([]string{platform, container.ID, pointer, strings.Join(matches, ",")}, "|")
	sum := sha256.Sum256([]byte(basis))

	foundAt := time.Now().UTC()
	if ts := sourceMeta["modified_at"]; ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			foundAt = t.UTC()
		}
	}

	dets := make([]model.Detection, 0, len(detections))
	for _, d := range detections {
		dets = append(dets, model.Detection{Label: d.Label, Match: d.Match})
	}

	snippet := text
	if len(snippet) > maxScanBytes {
		snippet = snippet[:maxScanBytes]
	}

	return &model.Event{
		Fingerprint:     hex.EncodeToString(sum[:]),
		Platform:        strings.ToLower(platform),
		Container:       container,
		FoundAt:         foundAt,
		Severity:        severityFor(detections),
		Detections:      dets,
		SnippetRedacted: Redact(snippet, matches),
		SourceMeta:      sourceMeta,
		Status:          model.SyncStatus{State: "new"},
	}
}

// Redact replaces every given substring with the mask token and bounds the
// result. Matches are replaced longest-first so that a short match never
// splits a longer one it is contained in.
func Redact(text string, matches []string) string {
	ordered := make([]string, len(matches))
	copy(ordered, matches)
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })
	for _, m := range ordered {
		if m != "" {
			text = strings.ReplaceAll(text, m, maskToken)
		}
	}
	if len(text) > maxSnippetLen {
		text = text[:maxSnippetLen]
	}
	return text
}

func severityFor(detections []Detection) model.Severity {
	for _, d := range detections {
		label := strings.ToLower(d.Label)
		for _, p := range credentialPrefixes {
			if strings.HasPrefix(label, p) {
				return model.SeverityHigh
			}
		}
	}
	return model.SeverityMedium
}

// uniqueMatches returns the sorted set of non-empty matched strings, the
// fingerprint's content component.
func uniqueMatches(detections []Detection) []string {
	seen := make(map[string]struct{}, len(detections))
	for _, d := range detections {
		if d.Match != "" {
			seen[d.Match] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
