// Package detect rejects generated turns that hallucinate a multi-speaker
// transcript instead of a single in-character reply. Detection is a pure
// function over the text; false positives only cost a retry, while false
// negatives corrupt the conversation, so the fuzzy matching stays
// conservative.
package detect

import (
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// separatorMarker is the turn separator used by the chat log. A generated
// reply that reproduces it is echoing transcript formatting.
const separatorMarker = "---"

// maxLabelDistance is the Levenshtein tolerance for near-miss speaker
// labels ("Alcie:" for "Alice:"). Kept small on purpose.
const maxLabelDistance = 2

// commonLabels are ordinary prose labels that must never be fuzzy-matched
// against speaker names, regardless of edit distance.
var commonLabels = map[string]struct{}{
	"note":     {},
	"notes":    {},
	"plan":     {},
	"nb":       {},
	"ps":       {},
	"tldr":     {},
	"summary":  {},
	"update":   {},
	"status":   {},
	"example":  {},
	"question": {},
	"answer":   {},
}

var (
	// [Alice]: on a line of its own.
	bracketLabelRe = regexp.MustCompile(`^\[[^\[\]]+\]:\s*$`)

	// **Alice**: at the start of a line.
	boldLabelRe = regexp.MustCompile(`^\*\*[^*]+\*\*\s*:`)

	// Alice: at the start of a line, optionally bullet-prefixed. The
	// colon may end the line (reply on the next line) or be followed by
	// whitespace. The label group is kept short to avoid matching prose
	// with colons.
	plainLabelRe = regexp.MustCompile(`^(?:[-*•]\s*)?([A-Za-z][A-Za-z0-9 ._'-]{0,32}):(?:\s|$)`)
)

// IsContaminated reports whether text looks like a fabricated multi-speaker
// transcript given the known speaker identifiers.
func IsContaminated(text string, knownSpeakers []string) bool {
	normalized := make([]string, 0, len(knownSpeakers))
	for _, s := range knownSpeakers {
		if n := normalizeLabel(s); n != "" {
			normalized = append(normalized, n)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		trimmed := strings.TrimSpace(line)

		if trimmed == separatorMarker {
			return true
		}
		if bracketLabelRe.MatchString(trimmed) {
			return true
		}
		if boldLabelRe.MatchString(trimmed) {
			return true
		}
		if m := plainLabelRe.FindStringSubmatch(trimmed); m != nil {
			if labelMatchesSpeaker(m[1], normalized) {
				return true
			}
		}
	}
	return false
}

// labelMatchesSpeaker reports whether a line label resolves to a known
// speaker, exactly or within the edit-distance tolerance.
func labelMatchesSpeaker(label string, speakers []string) bool {
	norm := normalizeLabel(label)
	if norm == "" {
		return false
	}
	if _, excluded := commonLabels[norm]; excluded {
		return false
	}

	dmp := diffmatchpatch.New()
	for _, speaker := range speakers {
		if norm == speaker {
			return true
		}
		// Only fuzz against names of comparable length; short common
		// words would otherwise collide with short persona names.
		if abs(len(norm)-len(speaker)) > maxLabelDistance {
			continue
		}
		diffs := dmp.DiffMain(norm, speaker, false)
		if dmp.DiffLevenshtein(diffs) <= maxLabelDistance {
			return true
		}
	}
	return false
}

// normalizeLabel lower-cases and strips everything but letters.
func normalizeLabel(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
