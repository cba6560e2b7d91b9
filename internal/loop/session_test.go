package loop

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/parley/internal/backend/mock"
	"github.com/zjrosen/parley/internal/chatlog"
	"github.com/zjrosen/parley/internal/conversation"
	"github.com/zjrosen/parley/internal/persona"
	"github.com/zjrosen/parley/internal/workflow"
)

func testPersonas() []persona.Persona {
	return []persona.Persona{
		{Name: "Alice", Body: "You are Alice."},
		{Name: "Bob", Body: "You are Bob."},
	}
}

func newTestSession(t *testing.T, dir string, b *mock.Backend) *Session {
	t.Helper()
	chat, err := chatlog.NewWriter(chatlog.Config{Path: filepath.Join(dir, "chat.md")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = chat.Close() })

	s, err := New(Config{
		Personas:       testPersonas(),
		Backend:        b,
		Model:          "test-model",
		SeedPrompt:     "Brainstorm growth channels.",
		RetainedCycles: 3,
		CycleWindow:    1,
		MaxAttempts:    3,
		Store:          conversation.NewStore(filepath.Join(dir, "conversation.jsonl")),
		StateStore:     workflow.NewStateStore(filepath.Join(dir, "workflow_state.json")),
		Chat:           chat,
		Rand:           rand.New(rand.NewSource(1)), //nolint:gosec // deterministic test rotation
	})
	require.NoError(t, err)
	return s
}

func TestNew_RequiresPersonas(t *testing.T) {
	_, err := New(Config{RetainedCycles: 1})
	require.ErrorIs(t, err, persona.ErrNoPersonas)
}

func TestSession_SeedAndFirstCycle(t *testing.T) {
	dir := t.TempDir()
	b := mock.New().Script("I suggest a weekly newsletter.")
	s := newTestSession(t, dir, b)

	ctx := context.Background()
	require.NoError(t, s.seed())
	require.NoError(t, s.iterate(ctx))
	require.NoError(t, s.iterate(ctx))

	history := s.History()
	require.Len(t, history, 3)
	require.Equal(t, conversation.SpeakerSeed, history[0].Speaker)
	require.Equal(t, "Brainstorm growth channels.", history[0].Content)
	for _, turn := range history[1:] {
		require.Contains(t, []string{"Alice", "Bob"}, turn.Speaker)
		require.Equal(t, "I suggest a weekly newsletter.", turn.Content)
	}
	require.NotEqual(t, history[1].Speaker, history[2].Speaker,
		"one cycle serves each persona once")

	// Cycle bookkeeping advanced and was persisted.
	require.Equal(t, 1, s.State().CyclesInStage)
	state, err := workflow.NewStateStore(filepath.Join(dir, "workflow_state.json")).Load()
	require.NoError(t, err)
	require.Equal(t, 1, state.CyclesInStage)

	// Each accepted turn was durably persisted.
	turns, err := conversation.NewStore(filepath.Join(dir, "conversation.jsonl")).Load()
	require.NoError(t, err)
	require.Equal(t, history, turns)
}

func TestSession_AnnouncesStageTransition(t *testing.T) {
	dir := t.TempDir()
	b := mock.New().Script(
		"- Podcast\n- Newsletter\n- Meetup\n- Survey\n- Conference talks",
	)
	s := newTestSession(t, dir, b)

	ctx := context.Background()
	require.NoError(t, s.seed())
	require.NoError(t, s.iterate(ctx))
	require.NoError(t, s.iterate(ctx))

	require.Equal(t, workflow.StageCluster, s.State().Stage)

	history := s.History()
	last := history[len(history)-1]
	require.Equal(t, conversation.SpeakerWorkflow, last.Speaker)
	require.Contains(t, last.Content, "Stage: cluster")

	chat, err := os.ReadFile(filepath.Join(dir, "chat.md")) //nolint:gosec // test temp path
	require.NoError(t, err)
	require.Contains(t, string(chat), "**Workflow**:")
}

func TestSession_SkippedTurnAdvancesRotation(t *testing.T) {
	dir := t.TempDir()
	b := mock.New().Script("") // always empty, every attempt rejected
	s := newTestSession(t, dir, b)

	ctx := context.Background()
	require.NoError(t, s.seed())
	require.NoError(t, s.iterate(ctx))

	history := s.History()
	require.Len(t, history, 1, "skipped turns never reach the history")
	require.Equal(t, 3, b.Calls(), "all attempts were spent")

	chat, err := os.ReadFile(filepath.Join(dir, "chat.md")) //nolint:gosec // test temp path
	require.NoError(t, err)
	require.Contains(t, string(chat), "attempt 1 discarded: empty-response")
	require.Contains(t, string(chat), "turn skipped after 3 attempts: empty-response")

	// The rotation moved on: the next iteration serves the other persona.
	b.Script("A real reply.")
	require.NoError(t, s.iterate(ctx))
	require.Len(t, s.History(), 2)
}

func TestSession_RetentionBoundsHistory(t *testing.T) {
	dir := t.TempDir()
	chat, err := chatlog.NewWriter(chatlog.Config{Path: filepath.Join(dir, "chat.md")})
	require.NoError(t, err)
	defer func() { _ = chat.Close() }()

	s, err := New(Config{
		Personas:       testPersonas(),
		Backend:        mock.New().Script("Another reply."),
		Model:          "test-model",
		SeedPrompt:     "Go.",
		RetainedCycles: 1,
		CycleWindow:    1,
		MaxAttempts:    1,
		Store:          conversation.NewStore(filepath.Join(dir, "conversation.jsonl")),
		StateStore:     workflow.NewStateStore(filepath.Join(dir, "workflow_state.json")),
		Chat:           chat,
		Rand:           rand.New(rand.NewSource(1)), //nolint:gosec // deterministic test rotation
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.seed())
	for i := 0; i < 10; i++ {
		require.NoError(t, s.iterate(ctx))
	}

	speakers := conversation.NewSpeakerSet("Alice", "Bob")
	require.LessOrEqual(t, conversation.PersonaCount(s.History(), speakers), 2,
		"retained cycles times persona count bounds the window")
}

func TestSession_ResumesPersistedHistory(t *testing.T) {
	dir := t.TempDir()
	b := mock.New().Script("First run reply.")

	s1 := newTestSession(t, dir, b)
	require.NoError(t, s1.seed())
	require.NoError(t, s1.iterate(context.Background()))
	require.Len(t, s1.History(), 2)

	s2 := newTestSession(t, dir, b)
	require.Equal(t, s1.History(), s2.History(), "resume loads the persisted turns")
	require.NotEqual(t, s1.ID(), s2.ID())
}

func TestSession_ResetsStaleWorkflowState(t *testing.T) {
	dir := t.TempDir()

	// Persist a mid-run stage with no matching conversation on disk.
	stale := workflow.NewState()
	stale.Stage = workflow.StageDecide
	stale.ShortlistOptions = []string{"Podcast", "Newsletter"}
	stale.CyclesInStage = 4
	require.NoError(t, workflow.NewStateStore(filepath.Join(dir, "workflow_state.json")).Save(stale))

	s := newTestSession(t, dir, mock.New().Script("Hi."))
	require.Equal(t, workflow.StageBrainstorm, s.State().Stage,
		"no persona turns means a fresh run")
	require.Empty(t, s.State().ShortlistOptions)
	require.Zero(t, s.State().CyclesInStage)
}

func TestSession_RunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(t, dir, mock.New().Script("Reply."))
	s.cfg.TurnDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "session did not stop after cancel")
	}
	require.NotEmpty(t, s.History())
}
