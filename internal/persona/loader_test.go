package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	tests := []struct {
		filename string
		expected string
	}{
		{"alice.md", "Alice"},
		{"bob.md", "Bob"},
		{"personas/carol.md", "Carol"},
		{"Recorder.md", "Recorder"},
		{"dee", "Dee"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.expected, Identity(tt.filename))
	}
}

func TestParse_FullFrontmatter(t *testing.T) {
	content := `---
special: true
order: 2
tool_choice: none
tools:
  - web_search
  - name: send_ping
    enabled: false
---
You are the recorder. Keep notes.
`
	p, err := Parse(content, "recorder.md")
	require.NoError(t, err)
	require.Equal(t, "Recorder", p.Name)
	require.True(t, p.Special)
	require.Equal(t, 2, p.Order)
	require.Equal(t, ToolChoiceNone, p.ToolChoice)
	require.Equal(t, "You are the recorder. Keep notes.", p.Body)

	require.Len(t, p.Tools, 2)
	require.Equal(t, ToolGrant{Name: "web_search", Enabled: true}, p.Tools[0])
	require.Equal(t, ToolGrant{Name: "send_ping", Enabled: false}, p.Tools[1])

	require.Equal(t, []string{"web_search"}, p.EnabledTools())
	granted, enabled := p.HasTool("send_ping")
	require.True(t, granted)
	require.False(t, enabled)
}

func TestParse_NoFrontmatter(t *testing.T) {
	p, err := Parse("Just be yourself.", "alice.md")
	require.NoError(t, err)
	require.Equal(t, "Alice", p.Name)
	require.False(t, p.Special)
	require.Equal(t, ToolChoiceAuto, p.ToolChoice)
	require.Equal(t, "Just be yourself.", p.Body)
}

func TestParse_UnknownFrontmatterKeyFails(t *testing.T) {
	content := "---\nspeciall: true\n---\nbody here that is long enough\n"
	_, err := Parse(content, "alice.md")
	require.Error(t, err)
}

func TestParse_EmptyBodyFails(t *testing.T) {
	_, err := Parse("---\nspecial: true\n---\n   \n", "alice.md")
	require.Error(t, err)
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
	}
	write("bob.md", "You are Bob, a pragmatic engineer.")
	write("alice.md", "You are Alice, a dreamer.")
	write("recorder.md", "---\nspecial: true\n---\nYou record decisions.")
	write("notes.txt", "not a persona")

	personas, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"Alice", "Bob", "Recorder"}, Names(personas))

	regulars, specials := Split(personas)
	require.Equal(t, []string{"Alice", "Bob"}, Names(regulars))
	require.Equal(t, []string{"Recorder"}, Names(specials))
}

func TestLoad_EmptyDirIsFatal(t *testing.T) {
	_, err := Load(t.TempDir())
	require.ErrorIs(t, err, ErrNoPersonas)
}

func TestSplit_SpecialOrder(t *testing.T) {
	personas := []Persona{
		{Name: "Alice"},
		{Name: "Recorder", Special: true, Order: 2},
		{Name: "Bob"},
		{Name: "Moderator", Special: true, Order: 1},
	}
	regulars, specials := Split(personas)
	require.Equal(t, []string{"Alice", "Bob"}, Names(regulars))
	require.Equal(t, []string{"Moderator", "Recorder"}, Names(specials))
}
