package detect

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Detection is one rule hit: the rule's label and the first matching text.
type Detection struct {
	Label string
	Match string
}

// maxScanBytes bounds how much of a record's text is ever matched against.
// Collaboration payloads can be arbitrarily large; everything past this
// point is ignored by both matching and the snippet.
const maxScanBytes = 4000

// Ruleset holds the compiled detection patterns. Compiled once at startup;
// matching is read-only and safe for concurrent use.
type Ruleset struct {
	labels   []string
	patterns map[string]*regexp.Regexp
}

// Compile builds a Ruleset from label → regex source pairs. Invalid
// expressions are logged and skipped, never fatal.
func Compile(rules map[string]string) *Ruleset {
	rs := &Ruleset{patterns: make(map[string]*regexp.Regexp, len(rules))}
	for label, src := range rules {
		re, err := regexp.Compile("(?m)" + src)
		if err != nil {
			slog.Warn("skipping invalid detection pattern", "label", label, "error", err)
			continue
		}
		rs.patterns[label] = re
		rs.labels = append(rs.labels, label)
	}
	// Stable label order so detection lists are deterministic across runs.
	sort.Strings(rs.labels)
	return rs
}

// LoadRules reads a label → regex mapping from a YAML file.
func LoadRules(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	var rules map[string]string
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	return rules, nil
}

// Len reports how many patterns compiled successfully.
func (rs *Ruleset) Len() int {
	return len(rs.patterns)
}

// Match scans text and returns one Detection per rule whose pattern matches
// anywhere in it, carrying the first match as the sample. Text is truncated
// to maxScanBytes before matching. No matches means no event.
func (rs *Ruleset) Match(text string) []Detection {
	if len(text) > maxScanBytes {
		text = text[:maxScanBytes]
	}
	var out []Detection
	for _, label := range rs.labels {
		if m := rs.patterns[label].FindString(text); m != "" {
			out = append(out, Detection{Label: label, Match: m})
		}
	}
	return out
}
