package generator

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// renderPrompt renders a prompt template string with the given data.
// Includes validation to prevent template injection attacks: the template
// text is operator-supplied config, but it still must not reach functions
// or nested templates.
func renderPrompt(tmpl string, data map[string]interface{}) (string, error) {
	// Block: call (function calls), define (template definition), template
	// (template inclusion), block
	forbiddenDirectives := []string{"{{call", "{{define", "{{template", "{{block"}
	for _, directive := range forbiddenDirectives {
		if strings.Contains(tmpl, directive) {
			return "", fmt.Errorf("template contains forbidden directive: %s", directive)
		}
	}

	// Parse with strict options
	t, err := template.New("prompt").
		Option("missingkey=error"). // Fail on missing keys to prevent silent errors
		Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// truncate shortens a string to maxLen runes for log output (Unicode-safe)
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
