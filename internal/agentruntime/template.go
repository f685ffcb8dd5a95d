package agentruntime

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Z_][A-Z0-9_]*)\}`)

// Template is a prompt-template file with named {PLACEHOLDER} tokens,
// rendered fresh from the immutable raw text on every call — this is
// what makes repeated UpdateSystemPrompt calls idempotent with respect
// to the appended summary heading (spec §8 "Summary idempotence").
type Template struct {
	raw          string
	placeholders map[string]bool
}

// LoadTemplate reads a template file and validates that every name in
// required is present as a {NAME} token (spec §9, "Prompt templates").
func LoadTemplate(path string, required []string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentruntime: read template %s: %w", path, err)
	}
	return NewTemplate(string(data), required)
}

// NewTemplate builds a Template directly from raw text, for callers that
// don't load templates from disk (e.g. tests).
func NewTemplate(raw string, required []string) (*Template, error) {
	found := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(raw, -1) {
		found[m[1]] = true
	}

	var missing []string
	for _, name := range required {
		if !found[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("agentruntime: template missing required placeholder(s): %s", strings.Join(missing, ", "))
	}

	return &Template{raw: raw, placeholders: found}, nil
}

// HasPlaceholder reports whether name appears as a {NAME} token in the
// template.
func (t *Template) HasPlaceholder(name string) bool {
	return t.placeholders[name]
}

// Render substitutes every {NAME} token found in replacements; any entry
// in replacements that names a token the template does not contain is
// silently ignored per spec §9.
func (t *Template) Render(replacements map[string]string) string {
	rendered := t.raw
	for name := range t.placeholders {
		value, ok := replacements[name]
		if !ok {
			continue
		}
		rendered = strings.ReplaceAll(rendered, "{"+name+"}", value)
	}
	return rendered
}
