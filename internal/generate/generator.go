package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/parley/internal/backend"
	"github.com/zjrosen/parley/internal/conversation"
	"github.com/zjrosen/parley/internal/detect"
	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/persona"
	"github.com/zjrosen/parley/internal/tracing"
)

// Rejection reasons recorded in attempt audits.
const (
	ReasonEmptyResponse = "empty-response"
	ReasonContaminated  = "transcript-contamination"
)

// DefaultMaxAttempts bounds the retry loop for one turn.
const DefaultMaxAttempts = 3

// Outcome is the result of running one persona turn.
type Outcome struct {
	// Accepted is true when Text should be appended as a spoken turn.
	Accepted bool

	// Text is the accepted response, or the sentinel when Coerced.
	Text string

	// ToolCalls are tool invocations emitted alongside the accepted text.
	ToolCalls []backend.ToolCall

	// Reason is the final rejection reason when no attempt was accepted.
	Reason string

	// Attempts is how many backend calls were made.
	Attempts int

	// Coerced is true when strict mode replaced a special persona's
	// off-script output with the sentinel. A coerced turn is an audit
	// note, never a spoken turn.
	Coerced bool
}

// Generator drives the attempt loop for one turn at a time. It is owned
// by the session loop and not safe for concurrent use.
type Generator struct {
	Backend backend.Backend
	Model   string

	// MaxAttempts bounds retries per turn. Values below 1 fall back to
	// DefaultMaxAttempts.
	MaxAttempts int

	// Strict enables sentinel normalization of special-persona output.
	Strict bool

	// OfferTools gates whether enabled tool grants reach the wire. Off
	// keeps tools registered but disabled.
	OfferTools bool

	// ContextBlocks are shared prompt sections appended to every system
	// prompt.
	ContextBlocks []string

	// Tracer creates the per-attempt backend spans. Nil falls back to
	// the global tracer.
	Tracer trace.Tracer

	// OnReject, when set, observes every rejected attempt.
	OnReject func(speaker string, attempt int, reason string)
}

// New creates a generator with default attempt bounds.
func New(b backend.Backend, model string) *Generator {
	return &Generator{Backend: b, Model: model, MaxAttempts: DefaultMaxAttempts}
}

// Generate runs the attempt loop for the given persona against the given
// history. Transient rejections (empty output, contamination) are retried
// up to the attempt bound; exhaustion yields a non-accepted outcome with
// the last reason. A backend failure is not retried and is returned as an
// error for the caller to handle.
func (g *Generator) Generate(ctx context.Context, p *persona.Persona, directive string, history []conversation.Turn, speakers conversation.SpeakerSet) (Outcome, error) {
	maxAttempts := g.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	req := BuildRequest(p, g.Model, directive, g.ContextBlocks, history)
	if !g.OfferTools {
		req.Tools = nil
	}
	outcome := Outcome{}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome.Attempts = attempt

		text, calls, err := g.stream(ctx, p.Name, attempt, req)
		if err != nil {
			return outcome, fmt.Errorf("generating turn for %s: %w", p.Name, err)
		}

		text = strings.TrimSpace(text)
		if text == "" {
			g.reject(p.Name, attempt, ReasonEmptyResponse)
			outcome.Reason = ReasonEmptyResponse
			continue
		}
		if detect.IsContaminated(text, speakers.Names()) {
			g.reject(p.Name, attempt, ReasonContaminated)
			outcome.Reason = ReasonContaminated
			continue
		}

		if g.Strict && p.Special {
			normalized, coerced := NormalizeSpecial(text)
			if coerced {
				log.Info(log.CatTurn, "Special persona output coerced to sentinel",
					"id", uuid.NewString(),
					"speaker", p.Name,
					"attempt", attempt)
				outcome.Coerced = true
				outcome.Text = normalized
				outcome.Reason = ""
				return outcome, nil
			}
			text = normalized
		}

		outcome.Accepted = true
		outcome.Text = text
		outcome.ToolCalls = calls
		outcome.Reason = ""

		if len(calls) > 0 {
			// Tool execution is registered but disabled; calls are
			// surfaced in the audit log only.
			log.Info(log.CatTurn, "Tool calls ignored",
				"speaker", p.Name,
				"count", len(calls))
		}
		return outcome, nil
	}

	log.Warn(log.CatTurn, "Turn skipped, attempts exhausted",
		"speaker", p.Name,
		"attempts", outcome.Attempts,
		"reason", outcome.Reason)
	return outcome, nil
}

// stream performs one backend call under a span and accumulates the
// response.
func (g *Generator) stream(ctx context.Context, speaker string, attempt int, req backend.Request) (string, []backend.ToolCall, error) {
	tracer := g.Tracer
	if tracer == nil {
		tracer = otel.Tracer("parley")
	}
	ctx, span := tracer.Start(ctx, tracing.SpanStream)
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrSpeaker, speaker),
		attribute.String(tracing.AttrModel, req.Model),
		attribute.String(tracing.AttrBackendType, string(g.Backend.Type())),
		attribute.Int(tracing.AttrAttempts, attempt),
	)

	chunks, err := g.Backend.Stream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}
	text, calls, err := backend.Collect(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}
	span.SetStatus(codes.Ok, "")
	return text, calls, nil
}

// reject records one discarded attempt. Rejected attempts are audited but
// never appended to the conversation.
func (g *Generator) reject(speaker string, attempt int, reason string) {
	log.Warn(log.CatTurn, "Attempt rejected",
		"id", uuid.NewString(),
		"speaker", speaker,
		"attempt", attempt,
		"reason", reason)
	if g.OnReject != nil {
		g.OnReject(speaker, attempt, reason)
	}
}
