// Package conversation provides the turn history model for parley.
// A conversation is an ordered sequence of turns; insertion order is
// conversation order. Only turns spoken by a configured persona count
// toward rotation and retention accounting - seed, narrator, and workflow
// announcements are carried alongside but never counted.
package conversation

// Pseudo-speakers that never count as persona turns.
const (
	// SpeakerSeed tags the opening prompt of a conversation.
	SpeakerSeed = "seed"

	// SpeakerNarrator tags injected advisor notices.
	SpeakerNarrator = "Narrator"

	// SpeakerWorkflow tags visible stage-transition announcements.
	SpeakerWorkflow = "Workflow"
)

// Turn is a single conversation record. Immutable once written.
type Turn struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// SpeakerSet reports whether a speaker identifier belongs to a configured
// persona. Pseudo-speakers are never members.
type SpeakerSet map[string]struct{}

// NewSpeakerSet builds a SpeakerSet from persona identifiers.
func NewSpeakerSet(names ...string) SpeakerSet {
	set := make(SpeakerSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Contains reports whether name is a known persona identifier.
func (s SpeakerSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the identifiers in the set, in unspecified order.
func (s SpeakerSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	return names
}

// PersonaCount returns the number of persona-authored turns.
func PersonaCount(turns []Turn, speakers SpeakerSet) int {
	count := 0
	for _, t := range turns {
		if speakers.Contains(t.Speaker) {
			count++
		}
	}
	return count
}

// RecentPersonaTurns returns the most recent n persona-authored turns,
// oldest first. Non-persona turns are skipped, not counted.
func RecentPersonaTurns(turns []Turn, speakers SpeakerSet, n int) []Turn {
	if n <= 0 {
		return nil
	}
	recent := make([]Turn, 0, n)
	for i := len(turns) - 1; i >= 0 && len(recent) < n; i-- {
		if speakers.Contains(turns[i].Speaker) {
			recent = append(recent, turns[i])
		}
	}
	// Reverse into conversation order.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent
}

// Trim enforces the retention window: walking from the end of the list,
// it keeps at most maxPersonaTurns persona-authored turns and cuts the
// list at the point where that count would be exceeded. Non-persona turns
// inside the retained span are kept; those before the cut are dropped.
func Trim(turns []Turn, speakers SpeakerSet, maxPersonaTurns int) []Turn {
	cut := 0
	count := 0
	for i := len(turns) - 1; i >= 0; i-- {
		if speakers.Contains(turns[i].Speaker) {
			count++
			if count > maxPersonaTurns {
				cut = i + 1
				break
			}
		}
	}
	if cut == 0 {
		return turns
	}
	trimmed := make([]Turn, len(turns)-cut)
	copy(trimmed, turns[cut:])
	return trimmed
}
