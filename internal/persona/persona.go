// Package persona provides persona profile loading for parley.
// A persona is a markdown file with YAML frontmatter: the frontmatter
// carries scheduling and capability settings, the body is the behavioural
// instruction block handed to the model verbatim.
package persona

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrNoPersonas is returned when the persona directory yields no personas.
// This is a fatal configuration error: the loop cannot run without speakers.
var ErrNoPersonas = errors.New("no personas configured")

// ToolChoice controls how granted tools are offered to the backend.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide whether to call a tool.
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone registers tools without offering them.
	ToolChoiceNone ToolChoice = "none"
)

// ToolGrant is a capability granted to a persona. A grant may be present
// but disabled: the tool stays registered so a future re-enable is a
// configuration flip, and calls against it are logged as no-ops.
type ToolGrant struct {
	Name    string
	Enabled bool
}

// Persona is a configured identity in the rotation.
type Persona struct {
	// Name is the identity derived from the config file name.
	Name string

	// Body is the behavioural instruction block (markdown after frontmatter).
	Body string

	// Special marks a persona fixed to the tail of every rotation cycle,
	// typically a reactive or moderating role.
	Special bool

	// Order fixes the relative position among special personas.
	// Ignored for regular personas.
	Order int

	// Tools is the persona's capability allowlist.
	Tools []ToolGrant

	// ToolChoice is the tool-offer policy for this persona.
	ToolChoice ToolChoice
}

// EnabledTools returns the names of tools that are granted and enabled.
func (p Persona) EnabledTools() []string {
	var names []string
	for _, t := range p.Tools {
		if t.Enabled {
			names = append(names, t.Name)
		}
	}
	return names
}

// HasTool reports whether the persona has a grant for name, and whether
// that grant is enabled.
func (p Persona) HasTool(name string) (granted, enabled bool) {
	for _, t := range p.Tools {
		if t.Name == name {
			return true, t.Enabled
		}
	}
	return false, false
}

// Identity derives a persona identifier from a config file name:
// the base name without extension, first letter capitalized.
// "alice.md" -> "Alice".
func Identity(filename string) string {
	base := filename
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if base == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(base)
	return string(unicode.ToUpper(r)) + base[size:]
}

// Names returns the identity names of the given personas, in order.
func Names(personas []Persona) []string {
	names := make([]string, len(personas))
	for i, p := range personas {
		names[i] = p.Name
	}
	return names
}

// Split partitions personas into regulars and specials, preserving order.
// Specials are sorted by their configured Order (stable for ties).
func Split(personas []Persona) (regulars, specials []Persona) {
	for _, p := range personas {
		if p.Special {
			specials = append(specials, p)
		} else {
			regulars = append(regulars, p)
		}
	}
	// Insertion sort keeps ties in file order; special sets are tiny.
	for i := 1; i < len(specials); i++ {
		for j := i; j > 0 && specials[j].Order < specials[j-1].Order; j-- {
			specials[j], specials[j-1] = specials[j-1], specials[j]
		}
	}
	return regulars, specials
}

// validate checks a loaded persona for obvious misconfiguration.
func (p Persona) validate() error {
	if p.Name == "" {
		return fmt.Errorf("persona has no name")
	}
	if strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("persona %s has an empty instruction body", p.Name)
	}
	switch p.ToolChoice {
	case ToolChoiceAuto, ToolChoiceNone:
	default:
		return fmt.Errorf("persona %s has invalid tool_choice %q", p.Name, p.ToolChoice)
	}
	return nil
}
