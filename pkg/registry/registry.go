// Package registry holds the action collaborators available to the executor,
// keyed by the actionType declared in journey definitions.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/evergreenhq/journeys/pkg/protocol"
)

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:          logger.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

// RegisterAction makes an action factory available under its ID.
func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
	r.logger.Debug("Registered action factory", "action_type", factory.ID())
}

// CreateAction instantiates the action collaborator for the given type.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}

	action, err := factory.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create action %q: %w", actionType, err)
	}

	return action, nil
}

// AvailableActionTypes lists registered action types in stable order.
func (r *Registry) AvailableActionTypes() []string {
	types := make([]string, 0, len(r.actionFactories))
	for id := range r.actionFactories {
		types = append(types, id)
	}

	sort.Strings(types)

	return types
}
