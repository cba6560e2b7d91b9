// Package loop runs the deliberation session: one persona turn at a time,
// with workflow evaluation at rotation-cycle boundaries and per-iteration
// persistence. All shared state (history, cursor, workflow state) is owned
// here; components receive it per call and never mutate it concurrently.
package loop

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/parley/internal/backend"
	"github.com/zjrosen/parley/internal/chatlog"
	"github.com/zjrosen/parley/internal/conversation"
	"github.com/zjrosen/parley/internal/flags"
	"github.com/zjrosen/parley/internal/generate"
	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/notice"
	"github.com/zjrosen/parley/internal/persona"
	"github.com/zjrosen/parley/internal/schedule"
	"github.com/zjrosen/parley/internal/tracing"
	"github.com/zjrosen/parley/internal/workflow"
)

// Config wires a session together. Store, StateStore, and Chat are
// required; Notices and Tracer are optional.
type Config struct {
	Personas []persona.Persona
	Backend  backend.Backend
	Model    string

	// SeedPrompt opens a fresh conversation. Ignored when history
	// already exists.
	SeedPrompt string

	// ContextBlocks are shared prompt sections for every turn.
	ContextBlocks []string

	TurnDelay      time.Duration
	RetainedCycles int
	CycleWindow    int
	MaxAttempts    int
	StrictSpecials bool

	Store      *conversation.Store
	StateStore *workflow.StateStore
	Chat       *chatlog.Writer
	Notices    *notice.Source

	// Flags toggles experimental behavior. Nil disables everything.
	Flags *flags.Registry

	Tracer trace.Tracer
	Rand   *rand.Rand
}

// Session owns the loop state for one run.
type Session struct {
	id       string
	cfg      Config
	speakers conversation.SpeakerSet

	scheduler *schedule.Scheduler
	generator *generate.Generator
	evaluator *workflow.Evaluator
	byName    map[string]*persona.Persona

	history []conversation.Turn
	state   *workflow.State

	maxPersonaTurns int
	tracer          trace.Tracer
}

// New builds a session, loading any persisted history and workflow state.
func New(cfg Config) (*Session, error) {
	if len(cfg.Personas) == 0 {
		return nil, persona.ErrNoPersonas
	}
	if cfg.RetainedCycles < 1 {
		return nil, fmt.Errorf("retained cycles must be at least 1, got %d", cfg.RetainedCycles)
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // G404: rotation shuffle, not crypto
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("parley")
	}

	history, err := cfg.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	state, err := cfg.StateStore.Load()
	if err != nil {
		return nil, fmt.Errorf("loading workflow state: %w", err)
	}

	speakers := conversation.NewSpeakerSet(persona.Names(cfg.Personas)...)
	if conversation.PersonaCount(history, speakers) == 0 {
		// No persona has spoken yet, so any persisted stage is stale.
		if state.Stage != workflow.StageBrainstorm {
			log.Info(log.CatLoop, "No persona turns found, resetting workflow state",
				"stage", state.Stage)
		}
		state = workflow.NewState()
	}

	byName := make(map[string]*persona.Persona, len(cfg.Personas))
	for i := range cfg.Personas {
		p := cfg.Personas[i]
		byName[p.Name] = &p
	}

	gen := generate.New(cfg.Backend, cfg.Model)
	gen.MaxAttempts = cfg.MaxAttempts
	gen.Strict = cfg.StrictSpecials
	gen.OfferTools = cfg.Flags.Enabled(flags.FlagToolCalls)
	gen.ContextBlocks = cfg.ContextBlocks
	gen.Tracer = tracer

	s := &Session{
		id:              uuid.NewString(),
		cfg:             cfg,
		speakers:        speakers,
		scheduler:       schedule.New(cfg.Personas, rng),
		generator:       gen,
		evaluator:       workflow.NewEvaluator(cfg.CycleWindow),
		byName:          byName,
		history:         history,
		state:           state,
		maxPersonaTurns: cfg.RetainedCycles * len(cfg.Personas),
		tracer:          tracer,
	}
	gen.OnReject = func(speaker string, attempt int, reason string) {
		if err := cfg.Chat.DiscardedAttempt(speaker, attempt, reason); err != nil {
			log.Warn(log.CatLoop, "Chat log write failed", "error", err)
		}
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// History returns the in-memory turn history. Exposed for tests and
// inspection; callers must not mutate it.
func (s *Session) History() []conversation.Turn {
	return s.history
}

// State returns the current workflow state.
func (s *Session) State() *workflow.State {
	return s.state
}

// Run drives the loop until ctx is cancelled. Every accepted turn is
// persisted before the next one begins, so cancellation between
// iterations loses nothing.
func (s *Session) Run(ctx context.Context) error {
	log.Info(log.CatLoop, "Session starting",
		"session", s.id,
		"personas", len(s.cfg.Personas),
		"stage", s.state.Stage)

	if err := s.seed(); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			log.Info(log.CatLoop, "Session stopping", "session", s.id)
			return nil
		}
		if err := s.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info(log.CatLoop, "Session stopping", "session", s.id)
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.TurnDelay):
		}
	}
}

// seed opens a fresh conversation with the configured prompt.
func (s *Session) seed() error {
	if len(s.history) > 0 || s.cfg.SeedPrompt == "" {
		return nil
	}
	return s.commit(conversation.Turn{
		Speaker: conversation.SpeakerSeed,
		Content: s.cfg.SeedPrompt,
	})
}

// iterate runs exactly one turn: optional notice injection, generation
// for the scheduled persona, and workflow evaluation when this turn
// closes a rotation cycle.
func (s *Session) iterate(ctx context.Context) error {
	if err := s.injectNotice(); err != nil {
		return err
	}

	speaker, cycleDone := s.scheduler.Advance()
	p, ok := s.byName[speaker]
	if !ok {
		return fmt.Errorf("scheduler produced unknown persona %q", speaker)
	}

	ctx, span := s.tracer.Start(ctx, tracing.SpanTurn)
	span.SetAttributes(
		attribute.String(tracing.AttrSessionID, s.id),
		attribute.String(tracing.AttrSpeaker, speaker),
		attribute.String(tracing.AttrStage, string(s.state.Stage)),
	)
	err := s.turn(ctx, p, span)
	span.End()
	if err != nil {
		return err
	}

	if cycleDone {
		if err := s.evaluateCycle(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) turn(ctx context.Context, p *persona.Persona, span trace.Span) error {
	directive := workflow.Directive(s.state)
	outcome, err := s.generator.Generate(ctx, p, directive, s.history, s.speakers)
	span.SetAttributes(
		attribute.Int(tracing.AttrAttempts, outcome.Attempts),
		attribute.Bool(tracing.AttrAccepted, outcome.Accepted),
	)
	if err != nil {
		// Backend failure: not retried this iteration, visible in the
		// log, and the rotation moves on.
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return err
		}
		log.ErrorErr(log.CatLoop, "Turn failed", err, "speaker", p.Name)
		return s.cfg.Chat.Notice(fmt.Sprintf("%s turn failed: %v", p.Name, err))
	}

	switch {
	case outcome.Accepted:
		if err := s.commit(conversation.Turn{Speaker: p.Name, Content: outcome.Text}); err != nil {
			return err
		}
		log.Debug(log.CatLoop, "Turn accepted",
			"session", s.id,
			"speaker", p.Name,
			"attempts", outcome.Attempts)
		return s.cfg.Chat.Turn(p.Name, outcome.Text)
	case outcome.Coerced:
		return s.cfg.Chat.Notice(fmt.Sprintf("%s: %s", p.Name, generate.SentinelNoAction))
	default:
		span.SetAttributes(attribute.String(tracing.AttrReason, outcome.Reason))
		return s.cfg.Chat.SkippedTurn(p.Name, outcome.Attempts, outcome.Reason)
	}
}

// evaluateCycle runs the workflow stage rules and publishes a visible
// announcement when the state changed.
func (s *Session) evaluateCycle(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, tracing.SpanEvaluate)
	changed := s.evaluator.OnCycleComplete(s.state, s.history, s.speakers)
	span.SetAttributes(
		attribute.String(tracing.AttrStage, string(s.state.Stage)),
		attribute.Int(tracing.AttrCandidates, len(s.state.CandidateOptions)),
		attribute.Int(tracing.AttrShortlist, len(s.state.ShortlistOptions)),
	)
	span.End()

	if err := s.cfg.StateStore.Save(s.state); err != nil {
		return fmt.Errorf("persisting workflow state: %w", err)
	}
	if !changed {
		return nil
	}

	announcement := workflow.Announcement(s.state)
	if err := s.commit(conversation.Turn{
		Speaker: conversation.SpeakerWorkflow,
		Content: announcement,
	}); err != nil {
		return err
	}
	return s.cfg.Chat.Turn(conversation.SpeakerWorkflow, announcement)
}

// injectNotice appends a pending advisor notice as a Narrator turn.
func (s *Session) injectNotice() error {
	if s.cfg.Notices == nil {
		return nil
	}
	text, ok := s.cfg.Notices.Next()
	if !ok {
		return nil
	}
	log.Info(log.CatNotice, "Injecting advisor notice", "session", s.id)
	if err := s.commit(conversation.Turn{
		Speaker: conversation.SpeakerNarrator,
		Content: text,
	}); err != nil {
		return err
	}
	return s.cfg.Chat.Turn(conversation.SpeakerNarrator, text)
}

// commit appends one turn, applies retention trimming, and persists the
// result before returning.
func (s *Session) commit(turn conversation.Turn) error {
	s.history = append(s.history, turn)
	s.history = conversation.Trim(s.history, s.speakers, s.maxPersonaTurns)
	if err := s.cfg.Store.Save(s.history); err != nil {
		return fmt.Errorf("persisting conversation: %w", err)
	}
	return nil
}
