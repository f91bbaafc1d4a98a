// Package template provides templating functionality for dynamic action
// configuration. Action config strings may reference the subject context,
// so one journey definition serves many subjects.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/evergreenhq/journeys/pkg/protocol"
)

// SubjectData builds the render context for one enrollment's subject.
func SubjectData(sctx protocol.SubjectContext) map[string]any {
	return map[string]any{
		"subject":    sctx.SubjectID,
		"attributes": sctx.Attributes,
		"journey": map[string]any{
			"id":      sctx.JourneyID,
			"version": sctx.JourneyVersion,
		},
		"enrollment": map[string]any{
			"id": sctx.EnrollmentID,
		},
	}
}

// NeedsTemplating reports whether a string contains template expressions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// Render expands a template string against the given data. Output that
// looks like JSON is decoded, so a template can produce structured values.
func Render(input string, data map[string]any) (any, error) {
	if !NeedsTemplating(input) {
		return input, nil
	}

	tmpl, err := template.
		New("config").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", input, err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template %q: %w", input, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var decoded any
		if err := json.Unmarshal([]byte(result), &decoded); err == nil {
			return decoded, nil
		}
	}

	return result, nil
}

// RenderMap expands every string value of a config map, recursing into
// nested maps and slices. The input map is not mutated.
func RenderMap(config map[string]any, data map[string]any) (map[string]any, error) {
	rendered := make(map[string]any, len(config))

	for key, value := range config {
		out, err := renderValue(value, data)
		if err != nil {
			return nil, err
		}

		rendered[key] = out
	}

	return rendered, nil
}

func renderValue(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, data)
	case map[string]any:
		return RenderMap(v, data)
	case []any:
		rendered := make([]any, len(v))

		for i, item := range v {
			out, err := renderValue(item, data)
			if err != nil {
				return nil, err
			}

			rendered[i] = out
		}

		return rendered, nil
	default:
		return value, nil
	}
}
