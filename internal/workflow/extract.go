package workflow

import (
	"regexp"
	"strings"
	"unicode"
)

// Normalize produces the comparison form of an option or turn text:
// lower-cased, punctuation stripped, whitespace collapsed.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r):
			if !space {
				b.WriteRune(' ')
				space = true
			}
		default:
			// punctuation dropped
		}
	}
	return strings.TrimRight(b.String(), " ")
}

var listItemRe = regexp.MustCompile(`^\s*(?:[-*•]|\d{1,2}[.)])\s+(.+)$`)

// Sentence bounds for the fallback extractor.
const (
	minSentenceLen = 25
	maxSentenceLen = 180
)

// metaPhrases disqualify a sentence from being an option: they are
// commentary about the discussion, not a proposal.
var metaPhrases = []string{
	"i agree",
	"i disagree",
	"i think we",
	"as i said",
	"good point",
	"great idea",
	"to summarize",
	"in summary",
	"let me",
	"you are right",
	"youre right",
	"we should decide",
	"i vote",
}

// ExtractOptions pulls candidate options out of turn texts. List items
// (bulleted or numbered lines) are taken verbatim; if no list markup
// appears anywhere, stand-alone declarative sentences of reasonable length
// are used instead. The result is deduplicated by normalized form,
// first-seen-first-kept, and capped at limit.
func ExtractOptions(texts []string, limit int) []string {
	var raw []string
	for _, text := range texts {
		for _, line := range strings.Split(text, "\n") {
			if m := listItemRe.FindStringSubmatch(line); m != nil {
				raw = append(raw, strings.TrimSpace(m[1]))
			}
		}
	}

	if len(raw) == 0 {
		for _, text := range texts {
			raw = append(raw, declarativeSentences(text)...)
		}
	}

	return dedupeCap(raw, limit)
}

// declarativeSentences extracts stand-alone sentences that read like a
// proposal: bounded length and free of meta phrases.
func declarativeSentences(text string) []string {
	var out []string
	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < minSentenceLen || len(sentence) > maxSentenceLen {
			continue
		}
		if strings.HasSuffix(sentence, "?") {
			continue
		}
		norm := Normalize(sentence)
		if hasMetaPhrase(norm) {
			continue
		}
		out = append(out, sentence)
	}
	return out
}

func hasMetaPhrase(normalized string) bool {
	for _, phrase := range metaPhrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}

var sentenceEndRe = regexp.MustCompile(`[.!?]+(\s+|$)`)

// splitSentences is a cheap sentence splitter: terminal punctuation
// followed by whitespace or end of text.
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\n", " ")
	var out []string
	start := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		out = append(out, text[start:loc[1]])
		start = loc[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// agreementPhrases mark a turn as an explicit endorsement when present in
// its normalized text. Substring containment of an option plus one of
// these phrases is a heuristic, not semantic understanding of agreement;
// the phrase list and supporter threshold are tunables.
var agreementPhrases = []string{
	"i agree",
	"i vote for",
	"i vote",
	"we should choose",
	"we should go with",
	"i pick",
	"im in favor",
	"lets go with",
	"my vote is",
	"agreed",
}

// HasAgreement reports whether the normalized turn text contains an
// explicit agreement phrase.
func HasAgreement(normalized string) bool {
	for _, phrase := range agreementPhrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}
