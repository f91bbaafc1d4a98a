package definition

import (
	"errors"
	"fmt"
	"strings"
)

// DefinitionError reports every violation found in a journey definition so
// operators can fix all issues in one pass. It is never partially applied:
// a journey cannot be published while its definition produces one.
type DefinitionError struct {
	JourneyID  string
	Violations []string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("journey %s definition has %d violation(s): %s",
		e.JourneyID, len(e.Violations), strings.Join(e.Violations, "; "))
}

// IsDefinitionError reports whether err is (or wraps) a DefinitionError.
func IsDefinitionError(err error) bool {
	var defErr *DefinitionError

	return errors.As(err, &defErr)
}
