package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evergreenhq/journeys/pkg/protocol"
)

func sctx() protocol.SubjectContext {
	return protocol.SubjectContext{
		SubjectID:      "subject-1",
		JourneyID:      "journey-1",
		JourneyVersion: 2,
		EnrollmentID:   "enr-1",
		Attributes:     map[string]any{"plan": "pro"},
	}
}

func execute(t *testing.T, url string, config map[string]any) (map[string]any, error) {
	t.Helper()

	if config == nil {
		config = map[string]any{}
	}

	config["url"] = url

	action, err := NewActionFactory().Create(config)
	require.NoError(t, err)

	spec := protocol.ActionSpec{NodeID: "notify", Type: "webhook", Config: config}

	return action.Execute(context.Background(), spec, sctx(), slog.Default())
}

func TestExecuteDeliversSubjectPayload(t *testing.T) {
	var received payload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	output, err := execute(t, server.URL, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, output["status"])
	assert.Equal(t, "subject-1", received.SubjectID)
	assert.Equal(t, "journey-1", received.JourneyID)
	assert.Equal(t, 2, received.JourneyVersion)
	assert.Equal(t, "enr-1", received.EnrollmentID)
	assert.Equal(t, "notify", received.NodeID)
	assert.Equal(t, "pro", received.Attributes["plan"])
}

func TestExecuteRendersTemplatedData(t *testing.T) {
	var received payload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	config := map[string]any{
		"data": map[string]any{
			"greeting": "hello {{.subject}}",
			"plan":     "{{.attributes.plan}}",
		},
	}

	_, err := execute(t, server.URL, config)
	require.NoError(t, err)

	assert.Equal(t, "hello subject-1", received.Data["greeting"])
	assert.Equal(t, "pro", received.Data["plan"])
}

func TestExecuteServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := execute(t, server.URL, nil)
	require.Error(t, err)
	assert.False(t, protocol.IsTerminal(err))
}

func TestExecuteTooManyRequestsIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := execute(t, server.URL, nil)
	require.Error(t, err)
	assert.False(t, protocol.IsTerminal(err))
}

func TestExecuteClientErrorIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := execute(t, server.URL, nil)
	require.Error(t, err)
	assert.True(t, protocol.IsTerminal(err))
}

func TestExecuteConnectionRefusedIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := execute(t, server.URL, nil)
	require.Error(t, err)
	assert.False(t, protocol.IsTerminal(err))
}

func TestCreateRequiresURL(t *testing.T) {
	_, err := NewActionFactory().Create(map[string]any{})
	require.Error(t, err)
}

func TestCreateRejectsInvalidTimeout(t *testing.T) {
	_, err := NewActionFactory().Create(map[string]any{
		"url":     "https://example.com",
		"timeout": "soon",
	})
	require.Error(t, err)
}
