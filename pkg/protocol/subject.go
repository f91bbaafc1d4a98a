package protocol

import "context"

// AttributeSource resolves the current attribute snapshot for a subject.
// Trigger and condition predicates are evaluated against this snapshot.
type AttributeSource interface {
	Attributes(ctx context.Context, subjectID string) (map[string]any, error)
}

// StaticAttributes is an AttributeSource over a fixed in-memory snapshot,
// used in tests and by callers that already hold the subject's attributes.
type StaticAttributes map[string]map[string]any

func (s StaticAttributes) Attributes(_ context.Context, subjectID string) (map[string]any, error) {
	attrs, ok := s[subjectID]
	if !ok {
		return map[string]any{}, nil
	}

	return attrs, nil
}
