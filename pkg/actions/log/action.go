// Package log provides an action collaborator that records a message, useful
// when developing journeys and as the simplest possible action.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evergreenhq/journeys/pkg/protocol"
	"github.com/evergreenhq/journeys/pkg/template"
)

// ActionFactory creates LogAction instances.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "log"
}

func (f *ActionFactory) Create(_ map[string]any) (protocol.Action, error) {
	return &LogAction{}, nil
}

type LogAction struct{}

func (a *LogAction) Execute(_ context.Context, spec protocol.ActionSpec, sctx protocol.SubjectContext, logger *slog.Logger) (map[string]any, error) {
	message := "journey action"

	if m, ok := spec.Config["message"].(string); ok && m != "" {
		rendered, err := template.Render(m, template.SubjectData(sctx))
		if err != nil {
			return nil, protocol.Terminal("failed to render log message", err)
		}

		message = fmt.Sprint(rendered)
	}

	level := slog.LevelInfo
	if l, ok := spec.Config["level"].(string); ok {
		switch l {
		case "debug":
			level = slog.LevelDebug
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	logger.Log(context.Background(), level, message,
		"action_type", "log",
		"node_id", spec.NodeID,
		"subject_id", sctx.SubjectID,
	)

	return map[string]any{"logged": message}, nil
}
