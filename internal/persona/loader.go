package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/parley/internal/log"
)

// frontmatter is the typed view of a persona file's YAML header.
// Only the fields the scheduler and generator consume are exposed;
// unknown keys are rejected so typos surface at startup.
type frontmatter struct {
	Special    bool        `yaml:"special"`
	Order      int         `yaml:"order"`
	Tools      []toolEntry `yaml:"tools"`
	ToolChoice string      `yaml:"tool_choice"`
}

// toolEntry accepts either a bare tool name or a name/enabled mapping:
//
//	tools:
//	  - web_search
//	  - name: send_ping
//	    enabled: false
type toolEntry struct {
	Name    string
	Enabled bool
}

func (t *toolEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		t.Name = name
		t.Enabled = true
		return nil
	case yaml.MappingNode:
		var raw struct {
			Name    string `yaml:"name"`
			Enabled *bool  `yaml:"enabled"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		if raw.Name == "" {
			return fmt.Errorf("tool entry missing name")
		}
		t.Name = raw.Name
		t.Enabled = raw.Enabled == nil || *raw.Enabled
		return nil
	default:
		return fmt.Errorf("tool entry must be a string or mapping")
	}
}

const frontmatterDelimiter = "---"

// Load reads all persona files (*.md) from dir. File order is
// lexicographic, which fixes the configured relative order of special
// personas with equal Order values. An empty result is ErrNoPersonas.
func Load(dir string) ([]Persona, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading persona directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var personas []Persona
	for _, name := range names {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path) //nolint:gosec // G304: path is inside the configured persona dir
		if err != nil {
			return nil, fmt.Errorf("reading persona file %s: %w", name, err)
		}

		p, err := Parse(string(content), name)
		if err != nil {
			return nil, fmt.Errorf("parsing persona %s: %w", name, err)
		}
		personas = append(personas, p)
		log.Debug(log.CatPersona, "Loaded persona", "name", p.Name, "special", p.Special, "tools", len(p.Tools))
	}

	if len(personas) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoPersonas, dir)
	}
	return personas, nil
}

// Parse builds a Persona from file content and its file name.
// Frontmatter is optional; a file without it is a regular persona whose
// whole content is the instruction body.
func Parse(content, filename string) (Persona, error) {
	fm, body, err := splitFrontmatter(content)
	if err != nil {
		return Persona{}, err
	}

	choice := ToolChoice(fm.ToolChoice)
	if choice == "" {
		choice = ToolChoiceAuto
	}

	tools := make([]ToolGrant, 0, len(fm.Tools))
	for _, t := range fm.Tools {
		tools = append(tools, ToolGrant{Name: t.Name, Enabled: t.Enabled})
	}

	p := Persona{
		Name:       Identity(filename),
		Body:       strings.TrimSpace(body),
		Special:    fm.Special,
		Order:      fm.Order,
		Tools:      tools,
		ToolChoice: choice,
	}
	if err := p.validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}

// splitFrontmatter separates the YAML header from the body. The header is
// delimited by "---" lines at the very start of the file.
func splitFrontmatter(content string) (frontmatter, string, error) {
	var fm frontmatter

	trimmed := strings.TrimLeft(content, "\uFEFF")
	if !strings.HasPrefix(trimmed, frontmatterDelimiter+"\n") &&
		trimmed != frontmatterDelimiter {
		return fm, content, nil
	}

	rest := strings.TrimPrefix(trimmed, frontmatterDelimiter+"\n")
	end := strings.Index(rest, "\n"+frontmatterDelimiter)
	if end < 0 {
		return fm, "", fmt.Errorf("unterminated frontmatter")
	}

	header := rest[:end]
	body := rest[end+len("\n"+frontmatterDelimiter):]
	body = strings.TrimPrefix(body, "\n")

	if strings.TrimSpace(header) == "" {
		return fm, body, nil
	}

	dec := yaml.NewDecoder(strings.NewReader(header))
	dec.KnownFields(true)
	if err := dec.Decode(&fm); err != nil {
		return fm, "", fmt.Errorf("decoding frontmatter: %w", err)
	}
	return fm, body, nil
}
