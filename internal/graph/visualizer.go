package graph

import (
	"fmt"
	"io"
	"sort"
)

// Visualizer provides methods to visualize the dependency graph
type Visualizer struct {
	graph *DependencyGraph
}

// NewVisualizer creates a new graph visualizer
func NewVisualizer(graph *DependencyGraph) *Visualizer {
	return &Visualizer{graph: graph}
}

// WriteDOT writes the graph in Graphviz DOT format. Edges point from a
// dependent bean to the bean it depends on.
func (v *Visualizer) WriteDOT(w io.Writer) error {
	v.graph.mu.RLock()
	defer v.graph.mu.RUnlock()

	if _, err := fmt.Fprintln(w, "digraph beans {"); err != nil {
		return err
	}
	fmt.Fprintln(w, "  rankdir=LR;")
	fmt.Fprintln(w, "  node [shape=box];")

	for _, from := range sortedKeys(v.graph.dependencies) {
		for _, to := range v.graph.dependencies[from].order {
			style := ""
			if c, ok := v.graph.contained[from]; ok && c.has(to) {
				style = " [style=dashed]"
			}
			fmt.Fprintf(w, "  %q -> %q%s;\n", from, to, style)
		}
	}

	_, err := fmt.Fprintln(w, "}")
	return err
}

// WriteText writes one line per bean listing its dependencies.
func (v *Visualizer) WriteText(w io.Writer) error {
	v.graph.mu.RLock()
	defer v.graph.mu.RUnlock()

	for _, name := range sortedKeys(v.graph.dependencies) {
		if _, err := fmt.Fprintf(w, "%s -> %v\n", name, v.graph.dependencies[name].order); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]*nameSet) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
