// Package workflow provides the deliberation stage machine. It watches the
// conversation at rotation-cycle boundaries and nudges the group from open
// brainstorming toward a single locked decision and a concrete next action.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zjrosen/parley/internal/log"
)

// Stage is one of the five ordered phases of group deliberation.
type Stage string

const (
	StageBrainstorm Stage = "brainstorm"
	StageCluster    Stage = "cluster"
	StageShortlist  Stage = "shortlist"
	StageDecide     Stage = "decide"
	StageNextAction Stage = "next_action"
)

// Stages lists the phases in order.
var Stages = []Stage{StageBrainstorm, StageCluster, StageShortlist, StageDecide, StageNextAction}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, stage := range Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// Objective is the short statement of what the group should be doing in
// this stage, shown in stage announcements.
func (s Stage) Objective() string {
	switch s {
	case StageBrainstorm:
		return "Generate as many distinct ideas as possible. Quantity over polish."
	case StageCluster:
		return "Group related ideas and sharpen the strongest candidates."
	case StageShortlist:
		return "Compare the shortlisted options head to head."
	case StageDecide:
		return "Converge on one option. State your vote explicitly."
	case StageNextAction:
		return "Turn the locked decision into one concrete next action."
	default:
		return ""
	}
}

// Pool limits.
const (
	// MaxCandidateOptions caps the deduplicated candidate pool.
	MaxCandidateOptions = 12
	// ShortlistSize is the number of options promoted out of the pool.
	ShortlistSize = 3
)

// State is the persisted stage-machine state.
type State struct {
	Stage                Stage    `json:"stage"`
	CyclesInStage        int      `json:"cycles_in_stage"`
	CandidateOptions     []string `json:"candidate_options"`
	ShortlistOptions     []string `json:"shortlist_options"`
	LockedDecision       string   `json:"locked_decision,omitempty"`
	LastTransitionReason string   `json:"last_transition_reason,omitempty"`
}

// NewState returns the initial state for a fresh conversation.
func NewState() *State {
	return &State{Stage: StageBrainstorm}
}

// clamp coerces out-of-range or missing fields to nearest-valid defaults.
// Applied on every load so a hand-edited or stale file never crashes the
// machine.
func (s *State) clamp() {
	if !s.Stage.Valid() {
		s.Stage = StageBrainstorm
	}
	if s.CyclesInStage < 0 {
		s.CyclesInStage = 0
	}
	s.CandidateOptions = dedupeCap(s.CandidateOptions, MaxCandidateOptions)
	s.ShortlistOptions = dedupeCap(s.ShortlistOptions, ShortlistSize)
}

// dedupeCap removes duplicates by normalized form (first seen wins) and
// caps the list length.
func dedupeCap(options []string, limit int) []string {
	seen := make(map[string]struct{}, len(options))
	out := make([]string, 0, len(options))
	for _, opt := range options {
		norm := Normalize(opt)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, opt)
		if len(out) == limit {
			break
		}
	}
	return out
}

// StateFilename is the workflow state file name inside the state directory.
const StateFilename = "workflow_state.json"

// StateStore persists the workflow state as a JSON document.
type StateStore struct {
	path string
}

// NewStateStore creates a store backed by the given file path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Load reads the persisted state, clamping fields into range. A missing or
// unparsable file yields a fresh initial state rather than an error.
func (st *StateStore) Load() (*State, error) {
	data, err := os.ReadFile(st.path) //nolint:gosec // G304: path comes from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("reading workflow state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn(log.CatWorkflow, "Malformed workflow state, resetting", "path", st.path, "error", err)
		return NewState(), nil
	}
	state.clamp()
	return &state, nil
}

// Save writes the state atomically (temp file + rename).
func (st *StateStore) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling workflow state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, StateFilename+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing workflow state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing workflow state: %w", err)
	}
	if err := os.Rename(tmpName, st.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing workflow state: %w", err)
	}
	return nil
}
