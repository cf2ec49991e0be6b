package graph

import (
	"fmt"
	"strings"
)

// CircularDependencyError represents a circular depends-on relationship
// between beans.
type CircularDependencyError struct {
	Node string
	Path []string
}

func (e CircularDependencyError) Error() string {
	var b strings.Builder
	b.WriteString("circular depends-on relationship detected:\n\n")

	if len(e.Path) <= 1 {
		b.WriteString(fmt.Sprintf("    %q\n", e.Node))
		b.WriteString("      ↓\n")
		b.WriteString(fmt.Sprintf("    %q (cycle)\n", e.Node))
	} else {
		for i, name := range e.Path {
			b.WriteString(fmt.Sprintf("    %q\n", name))
			if i < len(e.Path)-1 {
				b.WriteString("      ↓\n")
			}
		}
		b.WriteString("      ↓\n")
		b.WriteString(fmt.Sprintf("    %q (cycle)\n", e.Path[0]))
	}

	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Remove one of the depends-on entries\n")
	b.WriteString("  • Inject a Provider to look the bean up lazily\n")

	return b.String()
}
