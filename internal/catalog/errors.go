package catalog

import (
	"fmt"
	"strings"
)

// Issue is a single catalog validation failure.
type Issue struct {
	Field  string
	Reason string
}

// ValidationError reports every problem found in a catalog document. Callers
// treat it as fatal: nothing runs against a malformed catalog.
type ValidationError struct {
	Path   string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "catalog %s: %d validation issue(s)", e.Path, len(e.Issues))
	for _, is := range e.Issues {
		fmt.Fprintf(&b, "\n  %s: %s", is.Field, is.Reason)
	}
	return b.String()
}
