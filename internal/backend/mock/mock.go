// Package mock provides a scripted backend for tests and --backend mock
// dry runs. Importing it registers backend.TypeMock.
package mock

import (
	"context"
	"sync"

	"github.com/zjrosen/parley/internal/backend"
)

// Backend replays scripted responses in order. Once the script is
// exhausted it repeats the last entry, so a loop can run indefinitely
// against it. Behavior can be overridden per call via StreamFunc.
type Backend struct {
	// StreamFunc, when set, handles Stream calls entirely.
	StreamFunc func(ctx context.Context, req backend.Request) (<-chan backend.Chunk, error)

	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	requests  []backend.Request
}

// New creates a mock backend with no script. Stream returns empty
// responses until a script is added.
func New() *Backend {
	return &Backend{}
}

// Type returns backend.TypeMock.
func (b *Backend) Type() backend.Type {
	return backend.TypeMock
}

// Script sets the ordered responses to replay and clears call state.
func (b *Backend) Script(responses ...string) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses = responses
	b.calls = 0
	b.requests = nil
	return b
}

// FailWith queues errors returned before the script plays. Each queued
// error consumes one Stream call.
func (b *Backend) FailWith(errs ...error) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, errs...)
	return b
}

// Stream replays the next scripted response as two chunks: the body, then
// an empty Done chunk.
func (b *Backend) Stream(ctx context.Context, req backend.Request) (<-chan backend.Chunk, error) {
	if b.StreamFunc != nil {
		return b.StreamFunc(ctx, req)
	}

	b.mu.Lock()
	b.requests = append(b.requests, req)
	call := b.calls
	b.calls++

	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		b.mu.Unlock()
		return nil, err
	}

	var text string
	if n := len(b.responses); n > 0 {
		if call >= n {
			call = n - 1
		}
		text = b.responses[call]
	}
	b.mu.Unlock()

	chunks := make(chan backend.Chunk, 2)
	chunks <- backend.Chunk{Content: text}
	chunks <- backend.Chunk{Done: true}
	close(chunks)
	return chunks, nil
}

// Calls returns how many times Stream was invoked.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Requests returns a copy of the requests seen so far.
func (b *Backend) Requests() []backend.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Request(nil), b.requests...)
}

func init() {
	backend.Register(backend.TypeMock, func(backend.Options) backend.Backend {
		return New()
	})
}
