// Package backend abstracts the streaming model providers a session can
// talk to. Providers register themselves in init() and are constructed by
// type through the registry.
package backend

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Type identifies a model backend provider.
type Type string

const (
	// TypeOllama streams chat completions from a local Ollama server.
	TypeOllama Type = "ollama"
	// TypeMock is a scripted backend for tests and dry runs.
	TypeMock Type = "mock"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the chat history sent to a backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single streaming generation request.
type Request struct {
	// Model is the provider-specific model name.
	Model string

	// System is the assembled system prompt. Providers that take the
	// system prompt as a leading message do that mapping themselves.
	System string

	// Messages is the mapped conversation history, oldest first.
	Messages []Message

	// Tools lists the enabled tool names granted to the speaking persona.
	// Disabled grants are filtered out before the request is built.
	Tools []string

	// ToolChoice is "auto" or "none". Empty means provider default.
	ToolChoice string
}

// ToolCall is a tool invocation emitted by the model.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Chunk is one streamed fragment of a response. The final chunk has Done
// set; the channel is closed after it.
type Chunk struct {
	Content   string
	ToolCalls []ToolCall
	Done      bool
	Err       error
}

// Backend is a streaming model client.
type Backend interface {
	// Type returns the provider identifier.
	Type() Type

	// Stream starts a generation and returns a channel of chunks. The
	// channel is closed when the response completes, errors, or ctx is
	// cancelled. A mid-stream failure is delivered as a final chunk with
	// Err set.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Options carries provider construction settings.
type Options struct {
	// Host is the provider endpoint, e.g. "http://localhost:11434".
	Host string

	// Timeout bounds a single stream from first byte to completion.
	// Zero means no client-side bound beyond ctx.
	Timeout time.Duration
}

// ErrUnknownBackendType is returned when an unregistered type is requested.
var ErrUnknownBackendType = fmt.Errorf("unknown backend type")

var registry = make(map[Type]func(Options) Backend)

// Register adds a backend factory for the given type. Called from init()
// in provider packages.
func Register(t Type, factory func(Options) Backend) {
	registry[t] = factory
}

// New constructs a backend of the given type.
// Returns ErrUnknownBackendType if the type is not registered.
func New(t Type, opts Options) (Backend, error) {
	factory, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackendType, t)
	}
	return factory(opts), nil
}

// Registered returns all registered backend types, sorted.
func Registered() []Type {
	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// IsRegistered reports whether the given type has a factory.
func IsRegistered(t Type) bool {
	_, ok := registry[t]
	return ok
}

// Collect drains a stream into the full response text and tool calls. It
// returns early on ctx cancellation or a mid-stream error.
func Collect(ctx context.Context, chunks <-chan Chunk) (string, []ToolCall, error) {
	var text string
	var calls []ToolCall
	for {
		select {
		case <-ctx.Done():
			return text, calls, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return text, calls, nil
			}
			if chunk.Err != nil {
				return text, calls, chunk.Err
			}
			text += chunk.Content
			calls = append(calls, chunk.ToolCalls...)
			if chunk.Done {
				return text, calls, nil
			}
		}
	}
}
