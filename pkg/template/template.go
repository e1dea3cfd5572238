// Package template renders message bodies with personalization tokens.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"
)

// tokenPattern matches {{.token}} references in a template body.
var tokenPattern = regexp.MustCompile(`\{\{\s*\.([a-zA-Z0-9_]+)\s*\}\}`)

// Result is a rendered message plus any non-fatal warnings produced while
// rendering. A missing optional token never blocks the send; it renders as an
// explicit placeholder and is reported here.
type Result struct {
	Output   string
	Warnings []string
}

// Tokens returns the personalization tokens referenced by a template body.
func Tokens(body string) []string {
	matches := tokenPattern.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool, len(matches))
	tokens := make([]string, 0, len(matches))

	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true

			tokens = append(tokens, m[1])
		}
	}

	return tokens
}

// Render substitutes tokens from the recipient context into the body. Tokens
// absent from the context render as "[token]" and surface a warning.
func Render(body string, context map[string]any) (Result, error) {
	result := Result{}
	data := make(map[string]any, len(context))

	for _, token := range Tokens(body) {
		value, ok := context[token]
		if !ok || value == nil {
			data[token] = "[" + token + "]"
			result.Warnings = append(result.Warnings, fmt.Sprintf("missing token %q", token))

			continue
		}

		data[token] = value
	}

	tmpl, err := template.
		New("message").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(body)
	if err != nil {
		return result, fmt.Errorf("failed to parse template: %w", err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return result, fmt.Errorf("failed to execute template: %w", err)
	}

	result.Output = buf.String()

	return result, nil
}
