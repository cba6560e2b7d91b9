// Package generate runs one persona turn end to end: prompt assembly,
// the backend call, output validation, and bounded retries.
package generate

import (
	"strings"

	"github.com/zjrosen/parley/internal/backend"
	"github.com/zjrosen/parley/internal/conversation"
	"github.com/zjrosen/parley/internal/persona"
)

// BuildRequest assembles the outbound request for one turn of the given
// persona. The system block is the persona body followed by the workflow
// directive and any shared context blocks. History maps to chat roles:
// the persona's own past turns speak in its own voice, every other turn
// arrives as user content prefixed with the speaker's name, and the
// opening seed is passed through unprefixed.
func BuildRequest(p *persona.Persona, model, directive string, contextBlocks []string, history []conversation.Turn) backend.Request {
	sections := make([]string, 0, 2+len(contextBlocks))
	sections = append(sections, strings.TrimSpace(p.Body))
	if directive != "" {
		sections = append(sections, directive)
	}
	for _, block := range contextBlocks {
		if block = strings.TrimSpace(block); block != "" {
			sections = append(sections, block)
		}
	}

	messages := make([]backend.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Speaker {
		case p.Name:
			messages = append(messages, backend.Message{
				Role:    backend.RoleAssistant,
				Content: turn.Content,
			})
		case conversation.SpeakerSeed:
			messages = append(messages, backend.Message{
				Role:    backend.RoleUser,
				Content: turn.Content,
			})
		default:
			messages = append(messages, backend.Message{
				Role:    backend.RoleUser,
				Content: turn.Speaker + ": " + turn.Content,
			})
		}
	}

	return backend.Request{
		Model:      model,
		System:     strings.Join(sections, "\n\n"),
		Messages:   messages,
		Tools:      p.EnabledTools(),
		ToolChoice: string(p.ToolChoice),
	}
}
