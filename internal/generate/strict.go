package generate

import (
	"regexp"
	"strings"
	"unicode"
)

// SentinelNoAction is the canonical no-op reply for a special persona in
// strict mode.
const SentinelNoAction = "No action needed."

// Strict-mode bounds for a process remark.
const (
	maxRemarkSentences = 2
	maxRemarkChars     = 260
)

// processVocabulary marks a remark as being about the deliberation
// process itself. Matching is by word prefix so inflections count.
var processVocabulary = []string{
	"decide", "decision", "agree", "vote", "shortlist", "narrow",
	"converge", "consensus", "stage",
}

// pitchVocabulary disqualifies a remark: a special persona in strict mode
// must moderate the process, not pitch content.
var pitchVocabulary = []string{
	"idea", "launch", "build", "product", "feature", "pitch",
}

// NormalizeSpecial applies the strict-mode contract to a special
// persona's output. The text passes verbatim only when it is the exact
// sentinel or a short process-oriented remark; anything else is coerced
// to the sentinel and the returned flag is set.
func NormalizeSpecial(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == SentinelNoAction {
		return trimmed, false
	}
	if isProcessRemark(trimmed) {
		return trimmed, false
	}
	return SentinelNoAction, true
}

var remarkSentenceEndRe = regexp.MustCompile(`[.!?]+(\s+|$)`)

func isProcessRemark(text string) bool {
	if len(text) > maxRemarkChars {
		return false
	}
	if len(remarkSentenceEndRe.FindAllString(text, -1)) > maxRemarkSentences {
		return false
	}

	words := lowerWords(text)
	if !containsAnyPrefix(words, processVocabulary) {
		return false
	}
	if containsAnyPrefix(words, pitchVocabulary) {
		return false
	}
	return true
}

// lowerWords splits text into lower-cased alphabetic word tokens.
func lowerWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// containsAnyPrefix reports whether any word starts with any of the
// vocabulary stems ("decided" matches "decide").
func containsAnyPrefix(words, stems []string) bool {
	for _, word := range words {
		for _, stem := range stems {
			if strings.HasPrefix(word, stem) {
				return true
			}
		}
	}
	return false
}
