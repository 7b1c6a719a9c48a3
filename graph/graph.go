package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Graph maps a package name to the names of its direct dependencies.
type Graph map[string][]string

type MissingDependencyError struct {
	Package    string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("package '%s' depends on '%s', which is not part of the release", e.Package, e.Dependency)
}

type CycleError struct {
	Names []string
}

func (e *CycleError) Error() string {
	path := append(append([]string{}, e.Names...), e.Names[0])
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(path, " -> "))
}

// Nodes returns the package names in the graph, sorted.
func (g Graph) Nodes() []string {
	l := make([]string, 0, len(g))
	for name := range g {
		l = append(l, name)
	}
	sort.Strings(l)
	return l
}

func Validate(g Graph) error {
	for _, name := range g.Nodes() {
		for _, dep := range g[name] {
			if _, ok := g[dep]; !ok {
				return &MissingDependencyError{Package: name, Dependency: dep}
			}
		}
	}
	return nil
}

const (
	unvisited = iota
	visiting
	visited
)

// DetectCycle returns the packages that take part in the first cycle
// found, in dependency order, or nil if the graph is acyclic.  Nodes are
// walked in sorted order so the answer is stable across runs.
func DetectCycle(g Graph) []string {
	state := make(map[string]int)
	stack := make([]string, 0)

	var walk func(string) []string
	walk = func(name string) []string {
		state[name] = visiting
		stack = append(stack, name)

		for _, dep := range g[name] {
			switch state[dep] {
			case visiting:
				for i := range stack {
					if stack[i] == dep {
						return append([]string{}, stack[i:]...)
					}
				}
			case unvisited:
				if cycle := walk(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = visited
		return nil
	}

	for _, name := range g.Nodes() {
		if state[name] == unvisited {
			if cycle := walk(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TransitiveClosure returns, for every package, the sorted set of packages
// reachable through its dependencies (not including itself).
func TransitiveClosure(g Graph) (map[string][]string, error) {
	if cycle := DetectCycle(g); cycle != nil {
		return nil, &CycleError{Names: cycle}
	}

	memo := make(map[string]map[string]bool)
	var reach func(string) map[string]bool
	reach = func(name string) map[string]bool {
		if seen, ok := memo[name]; ok {
			return seen
		}
		seen := make(map[string]bool)
		for _, dep := range g[name] {
			seen[dep] = true
			for other := range reach(dep) {
				seen[other] = true
			}
		}
		memo[name] = seen
		return seen
	}

	closure := make(map[string][]string)
	for _, name := range g.Nodes() {
		l := make([]string, 0)
		for dep := range reach(name) {
			l = append(l, dep)
		}
		sort.Strings(l)
		closure[name] = l
	}
	return closure, nil
}

// TopologicalOrder lists every package after all of its dependencies.
// Ties are broken by name.
func TopologicalOrder(g Graph) ([]string, error) {
	if cycle := DetectCycle(g); cycle != nil {
		return nil, &CycleError{Names: cycle}
	}

	done := make(map[string]bool)
	order := make([]string, 0, len(g))

	var visit func(string)
	visit = func(name string) {
		if done[name] {
			return
		}
		done[name] = true
		deps := append([]string{}, g[name]...)
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}
		order = append(order, name)
	}

	for _, name := range g.Nodes() {
		visit(name)
	}
	return order, nil
}

// Resolve validates the graph and computes the transitive closure of
// every node.  Nothing is written anywhere; callers run this before they
// touch the blobstore or the catalog.
func Resolve(g Graph) (map[string][]string, error) {
	if err := Validate(g); err != nil {
		return nil, err
	}
	return TransitiveClosure(g)
}
