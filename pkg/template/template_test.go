package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evergreenhq/journeys/pkg/protocol"
)

func data() map[string]any {
	return SubjectData(protocol.SubjectContext{
		SubjectID:      "subject-1",
		JourneyID:      "journey-1",
		JourneyVersion: 3,
		EnrollmentID:   "enr-1",
		Attributes: map[string]any{
			"plan":  "pro",
			"email": "user@example.com",
		},
	})
}

func TestRenderPlainStringPassesThrough(t *testing.T) {
	out, err := Render("hello world", data())
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRenderSubjectFields(t *testing.T) {
	out, err := Render("welcome {{.subject}} on plan {{.attributes.plan}}", data())
	require.NoError(t, err)
	assert.Equal(t, "welcome subject-1 on plan pro", out)
}

func TestRenderJourneyContext(t *testing.T) {
	out, err := Render("{{.journey.id}}/v{{.journey.version}}/{{.enrollment.id}}", data())
	require.NoError(t, err)
	assert.Equal(t, "journey-1/v3/enr-1", out)
}

func TestRenderMissingKeyIsZero(t *testing.T) {
	out, err := Render("value=[{{.attributes.missing}}]", data())
	require.NoError(t, err)
	assert.Equal(t, "value=[]", out)
}

func TestRenderDecodesJSONOutput(t *testing.T) {
	out, err := Render(`{"email": "{{.attributes.email}}", "count": 2}`, data())
	require.NoError(t, err)

	decoded, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user@example.com", decoded["email"])
	assert.Equal(t, float64(2), decoded["count"])
}

func TestRenderInvalidTemplateErrors(t *testing.T) {
	_, err := Render("{{.attributes.plan", data())
	require.Error(t, err)
}

func TestRenderMapRecursesNestedValues(t *testing.T) {
	config := map[string]any{
		"url": "https://api.example.com/subjects/{{.subject}}",
		"headers": map[string]any{
			"X-Plan": "{{.attributes.plan}}",
		},
		"tags":    []any{"static", "{{.journey.id}}"},
		"retries": 3,
	}

	rendered, err := RenderMap(config, data())
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/subjects/subject-1", rendered["url"])
	assert.Equal(t, "pro", rendered["headers"].(map[string]any)["X-Plan"])
	assert.Equal(t, []any{"static", "journey-1"}, rendered["tags"])
	assert.Equal(t, 3, rendered["retries"])

	// The input map is untouched.
	assert.Equal(t, "https://api.example.com/subjects/{{.subject}}", config["url"])
}

func TestNeedsTemplating(t *testing.T) {
	assert.True(t, NeedsTemplating("{{.subject}}"))
	assert.False(t, NeedsTemplating("plain"))
}
