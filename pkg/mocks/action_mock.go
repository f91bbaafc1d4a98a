// Package mocks provides testify mocks for the engine's collaborator
// interfaces.
package mocks

import (
	"context"
	"log/slog"

	"github.com/stretchr/testify/mock"

	"github.com/evergreenhq/journeys/pkg/protocol"
)

// MockAction is a mock implementation of the protocol.Action interface.
type MockAction struct {
	mock.Mock
}

func (m *MockAction) Execute(ctx context.Context, spec protocol.ActionSpec, sctx protocol.SubjectContext, logger *slog.Logger) (map[string]any, error) {
	args := m.Called(ctx, spec, sctx, logger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}

// MockActionFactory is a mock implementation of protocol.ActionFactory that
// hands out a fixed action under a fixed type id.
type MockActionFactory struct {
	ActionID string
	Action   protocol.Action
	Err      error
}

func (f *MockActionFactory) ID() string {
	return f.ActionID
}

func (f *MockActionFactory) Create(_ map[string]any) (protocol.Action, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	return f.Action, nil
}
