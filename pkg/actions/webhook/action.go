// Package webhook provides an action collaborator that delivers the subject
// context to an HTTP endpoint. Server-side (5xx) and transport errors are
// classified retryable; client-side (4xx) errors are terminal.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/evergreenhq/journeys/pkg/protocol"
	"github.com/evergreenhq/journeys/pkg/template"
)

const defaultTimeout = 30 * time.Second

// ActionFactory creates WebhookAction instances.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "webhook"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("webhook action requires a url")
	}

	timeout := defaultTimeout
	if t, ok := config["timeout"].(string); ok {
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("webhook action has invalid timeout %q: %w", t, err)
		}

		timeout = parsed
	}

	return &WebhookAction{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type WebhookAction struct {
	url    string
	client *http.Client
}

type payload struct {
	SubjectID      string         `json:"subject_id"`
	JourneyID      string         `json:"journey_id"`
	JourneyVersion int            `json:"journey_version"`
	EnrollmentID   string         `json:"enrollment_id"`
	NodeID         string         `json:"node_id"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (a *WebhookAction) Execute(ctx context.Context, spec protocol.ActionSpec, sctx protocol.SubjectContext, logger *slog.Logger) (map[string]any, error) {
	subjectData := template.SubjectData(sctx)

	url := a.url
	if template.NeedsTemplating(url) {
		rendered, err := template.Render(url, subjectData)
		if err != nil {
			return nil, protocol.Terminal("failed to render webhook url", err)
		}

		url = fmt.Sprint(rendered)
	}

	data, _ := spec.Config["data"].(map[string]any)
	if data != nil {
		rendered, err := template.RenderMap(data, subjectData)
		if err != nil {
			return nil, protocol.Terminal("failed to render webhook data", err)
		}

		data = rendered
	}

	body, err := json.Marshal(payload{
		SubjectID:      sctx.SubjectID,
		JourneyID:      sctx.JourneyID,
		JourneyVersion: sctx.JourneyVersion,
		EnrollmentID:   sctx.EnrollmentID,
		NodeID:         spec.NodeID,
		Attributes:     sctx.Attributes,
		Data:           data,
	})
	if err != nil {
		return nil, protocol.Terminal("failed to encode webhook payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, protocol.Terminal("failed to build webhook request", err)
	}

	req.Header.Set("Content-Type", "application/json")

	logger.Debug("Delivering webhook", "url", url, "node_id", spec.NodeID)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, protocol.Retryable("webhook delivery failed", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return map[string]any{"status": resp.StatusCode}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, protocol.Retryable(
			fmt.Sprintf("webhook returned %d", resp.StatusCode),
			fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url))
	default:
		return nil, protocol.Terminal(
			fmt.Sprintf("webhook returned %d", resp.StatusCode),
			fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url))
	}
}
