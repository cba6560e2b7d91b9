package generate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/parley/internal/backend"
	"github.com/zjrosen/parley/internal/conversation"
	"github.com/zjrosen/parley/internal/persona"
)

func TestBuildRequest_RoleMapping(t *testing.T) {
	alice := &persona.Persona{
		Name:       "Alice",
		Body:       "You are Alice, a product strategist.",
		ToolChoice: persona.ToolChoiceAuto,
	}
	history := []conversation.Turn{
		{Speaker: conversation.SpeakerSeed, Content: "Brainstorm growth channels."},
		{Speaker: "Bob", Content: "What about a podcast?"},
		{Speaker: "Alice", Content: "A podcast could work."},
		{Speaker: conversation.SpeakerWorkflow, Content: "Stage: cluster"},
	}

	req := BuildRequest(alice, "llama3", "The group is clustering ideas.", nil, history)

	require.Equal(t, "llama3", req.Model)
	require.Equal(t, []backend.Message{
		{Role: backend.RoleUser, Content: "Brainstorm growth channels."},
		{Role: backend.RoleUser, Content: "Bob: What about a podcast?"},
		{Role: backend.RoleAssistant, Content: "A podcast could work."},
		{Role: backend.RoleUser, Content: "Workflow: Stage: cluster"},
	}, req.Messages)
}

func TestBuildRequest_SystemSections(t *testing.T) {
	alice := &persona.Persona{Name: "Alice", Body: "You are Alice."}

	req := BuildRequest(alice, "llama3", "Contribute new ideas.",
		[]string{"Company context: we sell telescopes.", "  "}, nil)

	require.Equal(t,
		"You are Alice.\n\nContribute new ideas.\n\nCompany context: we sell telescopes.",
		req.System)
}

func TestBuildRequest_ToolGrants(t *testing.T) {
	alice := &persona.Persona{
		Name: "Alice",
		Body: "You are Alice.",
		Tools: []persona.ToolGrant{
			{Name: "web_search", Enabled: true},
			{Name: "code_exec", Enabled: false},
		},
		ToolChoice: persona.ToolChoiceNone,
	}

	req := BuildRequest(alice, "llama3", "", nil, nil)
	require.Equal(t, []string{"web_search"}, req.Tools,
		"disabled grants never reach the wire")
	require.Equal(t, "none", req.ToolChoice)
}
