package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFilename)
	store := NewStateStore(path)

	want := &State{
		Stage:                StageDecide,
		CyclesInStage:        2,
		CandidateOptions:     []string{"Podcast", "Newsletter", "Meetup"},
		ShortlistOptions:     []string{"Podcast", "Newsletter"},
		LastTransitionReason: "shortlist debated for a full cycle",
	}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStateStore_MissingFileYieldsFreshState(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), StateFilename))

	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, NewState(), got)
}

func TestStateStore_MalformedFileYieldsFreshState(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFilename)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	got, err := NewStateStore(path).Load()
	require.NoError(t, err)
	require.Equal(t, NewState(), got)
}

func TestStateStore_ClampsOutOfRangeFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFilename)
	raw := `{
  "stage": "negotiate",
  "cycles_in_stage": -3,
  "candidate_options": ["Podcast", "podcast!", "Newsletter"],
  "shortlist_options": ["A1", "B2", "C3", "D4"]
}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	got, err := NewStateStore(path).Load()
	require.NoError(t, err)
	require.Equal(t, StageBrainstorm, got.Stage, "unknown stage falls back to the default")
	require.Equal(t, 0, got.CyclesInStage)
	require.Equal(t, []string{"Podcast", "Newsletter"}, got.CandidateOptions,
		"duplicates by normalized form collapse, first seen wins")
	require.Len(t, got.ShortlistOptions, ShortlistSize)
}

func TestStageValid(t *testing.T) {
	for _, s := range Stages {
		require.True(t, s.Valid(), s)
		require.NotEmpty(t, s.Objective(), s)
	}
	require.False(t, Stage("negotiate").Valid())
	require.False(t, Stage("").Valid())
}
