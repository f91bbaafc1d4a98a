package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockAttributeSource is a mock implementation of protocol.AttributeSource.
type MockAttributeSource struct {
	mock.Mock
}

func (m *MockAttributeSource) Attributes(ctx context.Context, subjectID string) (map[string]any, error) {
	args := m.Called(ctx, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}
