package workflow

import (
	"fmt"
	"strings"

	"github.com/zjrosen/parley/internal/conversation"
	"github.com/zjrosen/parley/internal/log"
)

// Evaluation thresholds. See the stage rules in Evaluate.
const (
	minCandidatesForCluster   = 5
	minCandidatesForShortlist = 4
	maxCyclesInCluster        = 2
	minShortlistSurvivors     = 2
	minSupporters             = 2
)

// Defaults for how far back the evaluator reads.
const (
	DefaultRecentOptionTurns    = 50
	DefaultRecentAgreementTurns = 40
	DefaultCycleWindow          = 1
)

// Evaluator runs the stage rules at rotation-cycle boundaries.
// It is owned by the main loop and not safe for concurrent use.
type Evaluator struct {
	// CycleWindow is how many completed cycles must elapse between
	// evaluations. Cycle bookkeeping still advances in between.
	CycleWindow int

	// RecentOptionTurns bounds how many persona turns the option
	// extractor reads during brainstorm.
	RecentOptionTurns int

	// RecentAgreementTurns bounds how many persona turns the agreement
	// scan reads during decide.
	RecentAgreementTurns int

	cyclesSinceEval int
}

// NewEvaluator returns an evaluator with the default windows.
func NewEvaluator(cycleWindow int) *Evaluator {
	if cycleWindow < 1 {
		cycleWindow = DefaultCycleWindow
	}
	return &Evaluator{
		CycleWindow:          cycleWindow,
		RecentOptionTurns:    DefaultRecentOptionTurns,
		RecentAgreementTurns: DefaultRecentAgreementTurns,
	}
}

// OnCycleComplete is called once per completed rotation cycle. It advances
// the cycle bookkeeping unconditionally and, every CycleWindow cycles,
// evaluates the stage rules against the turn history. The returned flag is
// true when the state changed in a way that warrants a visible
// announcement (a stage transition or a forced narrowing).
func (e *Evaluator) OnCycleComplete(state *State, turns []conversation.Turn, speakers conversation.SpeakerSet) bool {
	state.CyclesInStage++
	e.cyclesSinceEval++
	if e.cyclesSinceEval < e.CycleWindow {
		return false
	}
	e.cyclesSinceEval = 0

	transitioned := e.evaluate(state, turns, speakers)
	if transitioned {
		log.Info(log.CatWorkflow, "Stage state changed",
			"stage", state.Stage,
			"reason", state.LastTransitionReason,
			"candidates", len(state.CandidateOptions),
			"shortlist", len(state.ShortlistOptions))
	}
	return transitioned
}

// evaluate applies the rule for the current stage. Exactly one stage rule
// runs per evaluation.
func (e *Evaluator) evaluate(state *State, turns []conversation.Turn, speakers conversation.SpeakerSet) bool {
	switch state.Stage {
	case StageBrainstorm:
		return e.evalBrainstorm(state, turns, speakers)
	case StageCluster:
		return e.evalCluster(state)
	case StageShortlist:
		return e.evalShortlist(state)
	case StageDecide:
		return e.evalDecide(state, turns, speakers)
	case StageNextAction:
		// Terminal for this run; the team is expected to act.
		return false
	default:
		return false
	}
}

// evalBrainstorm grows the candidate pool from recent turns and advances
// once enough distinct options exist.
func (e *Evaluator) evalBrainstorm(state *State, turns []conversation.Turn, speakers conversation.SpeakerSet) bool {
	recent := conversation.RecentPersonaTurns(turns, speakers, e.RecentOptionTurns)
	texts := make([]string, len(recent))
	for i, t := range recent {
		texts[i] = t.Content
	}

	extracted := ExtractOptions(texts, MaxCandidateOptions)
	state.CandidateOptions = mergeOptions(state.CandidateOptions, extracted, MaxCandidateOptions)

	if len(state.CandidateOptions) >= minCandidatesForCluster {
		transition(state, StageCluster,
			fmt.Sprintf("collected %d distinct candidate options", len(state.CandidateOptions)))
		return true
	}
	return false
}

// evalCluster promotes the head of the candidate pool to a shortlist once
// the pool is large enough or the stage has run long enough.
func (e *Evaluator) evalCluster(state *State) bool {
	if len(state.CandidateOptions) < minCandidatesForShortlist &&
		state.CyclesInStage < maxCyclesInCluster {
		return false
	}

	n := ShortlistSize
	if n > len(state.CandidateOptions) {
		n = len(state.CandidateOptions)
	}
	shortlist := append([]string(nil), state.CandidateOptions[:n]...)
	if len(shortlist) < minShortlistSurvivors {
		return false
	}

	state.ShortlistOptions = shortlist
	transition(state, StageShortlist,
		fmt.Sprintf("promoted top %d options to the shortlist", len(shortlist)))
	return true
}

// evalShortlist gives the group at least one full cycle with the shortlist
// before moving to an explicit decision round.
func (e *Evaluator) evalShortlist(state *State) bool {
	if len(state.ShortlistOptions) >= minShortlistSurvivors && state.CyclesInStage >= 1 {
		transition(state, StageDecide, "shortlist debated for a full cycle")
		return true
	}
	return false
}

// evalDecide counts explicit supporters per shortlist option. The best
// option with enough distinct supporters is locked in; a stalled stage is
// forced forward by narrowing the shortlist instead of silently picking.
func (e *Evaluator) evalDecide(state *State, turns []conversation.Turn, speakers conversation.SpeakerSet) bool {
	recent := conversation.RecentPersonaTurns(turns, speakers, e.RecentAgreementTurns)
	support := countSupporters(state.ShortlistOptions, recent)

	best, bestCount := "", 0
	for _, opt := range state.ShortlistOptions {
		if c := support[Normalize(opt)]; c > bestCount {
			best, bestCount = opt, c
		}
	}

	if bestCount >= minSupporters {
		state.LockedDecision = best
		transition(state, StageNextAction,
			fmt.Sprintf("%q locked in with %d supporters", best, bestCount))
		return true
	}

	if state.CyclesInStage >= 1 {
		// Force progress: narrow to the two strongest entries rather than
		// stalling indefinitely. Stage is unchanged; the cycle counter
		// resets so the narrowed shortlist gets a fresh round.
		pool := state.ShortlistOptions
		if len(pool) < minShortlistSurvivors {
			pool = state.CandidateOptions
		}
		state.ShortlistOptions = bestTwo(pool, support)
		state.CyclesInStage = 0
		state.LastTransitionReason =
			fmt.Sprintf("no option reached %d supporters; narrowed shortlist to %d entries",
				minSupporters, len(state.ShortlistOptions))
		return true
	}
	return false
}

// countSupporters maps each option's normalized text to the number of
// distinct speakers whose turn contains that text plus an agreement
// phrase, after normalization.
func countSupporters(options []string, turns []conversation.Turn) map[string]int {
	supporters := make(map[string]map[string]struct{}, len(options))
	norms := make([]string, len(options))
	for i, opt := range options {
		norms[i] = Normalize(opt)
		supporters[norms[i]] = make(map[string]struct{})
	}

	for _, turn := range turns {
		text := Normalize(turn.Content)
		if !HasAgreement(text) {
			continue
		}
		for _, norm := range norms {
			if norm == "" {
				continue
			}
			if containsOption(text, norm) {
				supporters[norm][turn.Speaker] = struct{}{}
			}
		}
	}

	counts := make(map[string]int, len(supporters))
	for norm, set := range supporters {
		counts[norm] = len(set)
	}
	return counts
}

func containsOption(normalizedText, normalizedOption string) bool {
	return normalizedOption != "" && strings.Contains(normalizedText, normalizedOption)
}

// bestTwo orders options by supporter count (stable, first-seen breaks
// ties) and keeps the top two.
func bestTwo(options []string, support map[string]int) []string {
	ranked := append([]string(nil), options...)
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && support[Normalize(ranked[j])] > support[Normalize(ranked[j-1])]; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	if len(ranked) > 2 {
		ranked = ranked[:2]
	}
	return ranked
}

// mergeOptions appends new options to the pool, deduplicating by
// normalized form and capping the result.
func mergeOptions(pool, incoming []string, limit int) []string {
	merged := append(append([]string(nil), pool...), incoming...)
	return dedupeCap(merged, limit)
}

// transition moves to the next stage and records why.
func transition(state *State, to Stage, reason string) {
	state.Stage = to
	state.CyclesInStage = 0
	state.LastTransitionReason = reason
}
