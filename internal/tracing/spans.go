package tracing

// Span attribute keys. These are the semantic conventions for session
// loop spans.
const (
	// Session attributes
	AttrSessionID = "session.id"

	// Turn attributes
	AttrSpeaker  = "turn.speaker"
	AttrAttempts = "turn.attempts"
	AttrAccepted = "turn.accepted"
	AttrReason   = "turn.reason"

	// Backend attributes
	AttrBackendType = "backend.type"
	AttrModel       = "backend.model"

	// Workflow attributes
	AttrStage      = "workflow.stage"
	AttrCandidates = "workflow.candidates"
	AttrShortlist  = "workflow.shortlist"
)

// Span names.
const (
	SpanTurn     = "session.turn"
	SpanStream   = "backend.stream"
	SpanEvaluate = "workflow.evaluate"
)
