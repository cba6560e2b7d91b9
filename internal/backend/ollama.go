package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zjrosen/parley/internal/log"
)

// DefaultOllamaHost is used when no host is configured.
const DefaultOllamaHost = "http://localhost:11434"

// Ollama streams chat completions from an Ollama server's /api/chat
// endpoint. Responses arrive as newline-delimited JSON objects.
type Ollama struct {
	host   string
	client *http.Client
}

// NewOllama creates an Ollama backend for the given options.
func NewOllama(opts Options) *Ollama {
	host := strings.TrimRight(opts.Host, "/")
	if host == "" {
		host = DefaultOllamaHost
	}
	return &Ollama{
		host:   host,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Type returns TypeOllama.
func (o *Ollama) Type() Type {
	return TypeOllama
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

type ollamaChatRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	Stream   bool         `json:"stream"`
	Tools    []ollamaTool `json:"tools,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Role      Role   `json:"role"`
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Stream sends the chat request and forwards the response stream chunk by
// chunk. The system prompt becomes the leading system-role message.
func (o *Ollama) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}
	if req.ToolChoice != "none" {
		for _, name := range req.Tools {
			body.Tools = append(body.Tools, ollamaTool{
				Type: "function",
				Function: ollamaToolFunction{
					Name:       name,
					Parameters: json.RawMessage(`{"type":"object","properties":{}}`),
				},
			})
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling %s/api/chat: %w", o.host, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama chat: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	chunks := make(chan Chunk, 16)
	log.SafeGo("ollama-stream", func() {
		defer close(chunks)
		defer func() { _ = resp.Body.Close() }()

		dec := json.NewDecoder(resp.Body)
		for {
			var line ollamaChatResponse
			if err := dec.Decode(&line); err != nil {
				if err == io.EOF {
					return
				}
				o.deliver(ctx, chunks, Chunk{Err: fmt.Errorf("decoding chat stream: %w", err)})
				return
			}
			if line.Error != "" {
				o.deliver(ctx, chunks, Chunk{Err: fmt.Errorf("ollama chat: %s", line.Error)})
				return
			}

			chunk := Chunk{Content: line.Message.Content, Done: line.Done}
			for _, call := range line.Message.ToolCalls {
				chunk.ToolCalls = append(chunk.ToolCalls, ToolCall{
					Name:      call.Function.Name,
					Arguments: string(call.Function.Arguments),
				})
			}
			if !o.deliver(ctx, chunks, chunk) {
				return
			}
			if line.Done {
				log.Debug(log.CatBackend, "Stream complete",
					"model", req.Model,
					"elapsed", time.Since(start).String())
				return
			}
		}
	})
	return chunks, nil
}

// deliver sends a chunk unless the consumer has gone away.
func (o *Ollama) deliver(ctx context.Context, ch chan<- Chunk, chunk Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func init() {
	Register(TypeOllama, func(opts Options) Backend {
		return NewOllama(opts)
	})
}
