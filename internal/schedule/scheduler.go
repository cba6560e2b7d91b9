// Package schedule provides the persona rotation scheduler.
// Regular personas are reshuffled uniformly at every cycle boundary;
// special personas keep a fixed position at the tail of every cycle so
// reactive roles always observe last.
package schedule

import (
	"math/rand"

	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/persona"
)

// Scheduler maintains the rotation order and cursor for the current cycle.
// It is not safe for concurrent use; the main loop is its only caller.
type Scheduler struct {
	regulars []string
	specials []string
	order    []string
	cursor   int
	rng      *rand.Rand
}

// New creates a scheduler from the configured personas. The persona set
// must be non-empty; that is enforced at load time by persona.Load.
// rng drives the per-cycle shuffle; passing a seeded source makes
// rotations reproducible in tests.
func New(personas []persona.Persona, rng *rand.Rand) *Scheduler {
	regulars, specials := persona.Split(personas)
	s := &Scheduler{
		regulars: persona.Names(regulars),
		specials: persona.Names(specials),
		rng:      rng,
	}
	s.rebuild()
	return s
}

// Advance serves the next persona in the rotation and reports whether this
// call completed a full cycle. The cycle-completed flag fires exactly on
// the call that serves the last persona of the current order; the next
// call starts a freshly shuffled cycle.
func (s *Scheduler) Advance() (current string, cycleDone bool) {
	if s.cursor >= len(s.order) {
		s.rebuild()
	}

	current = s.order[s.cursor]
	s.cursor++
	cycleDone = s.cursor == len(s.order)

	if cycleDone {
		log.Debug(log.CatSchedule, "Rotation cycle completed", "last", current)
	}
	return current, cycleDone
}

// Order returns the rotation order of the current cycle.
func (s *Scheduler) Order() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// rebuild regenerates the rotation: a Fisher-Yates shuffle of the regular
// personas with the specials appended in their configured relative order.
func (s *Scheduler) rebuild() {
	order := make([]string, 0, len(s.regulars)+len(s.specials))
	order = append(order, s.regulars...)
	s.rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	order = append(order, s.specials...)
	s.order = order
	s.cursor = 0
}
