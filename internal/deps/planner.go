// Package deps plans and builds the external static libraries the binary
// links against.
package deps

import (
	"fmt"
	"strings"

	"github.com/Norgate-AV/nbuild/internal/config"
)

// CycleError reports a prerequisite cycle. Cycle starts and ends with the
// same dependency name.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnknownPrerequisiteError reports a requires entry naming no dependency
type UnknownPrerequisiteError struct {
	Dependency   string
	Prerequisite string
}

func (e *UnknownPrerequisiteError) Error() string {
	return fmt.Sprintf("dependency %s requires unknown dependency %s", e.Dependency, e.Prerequisite)
}

// Plan orders deps so every dependency follows its prerequisites. Among
// dependencies that are ready at the same time, declaration order wins.
func Plan(deps []config.Dependency) ([]config.Dependency, error) {
	index := make(map[string]int, len(deps))
	for i, dep := range deps {
		index[dep.Name] = i
	}

	for _, dep := range deps {
		for _, req := range dep.Requires {
			if _, ok := index[req]; !ok {
				return nil, &UnknownPrerequisiteError{Dependency: dep.Name, Prerequisite: req}
			}
		}
	}

	if err := detectCycles(deps, index); err != nil {
		return nil, err
	}

	ordered := make([]config.Dependency, 0, len(deps))
	placed := make([]bool, len(deps))

	for len(ordered) < len(deps) {
		for i, dep := range deps {
			if placed[i] || !ready(dep, index, placed) {
				continue
			}

			placed[i] = true
			ordered = append(ordered, dep)

			break
		}
	}

	return ordered, nil
}

func ready(dep config.Dependency, index map[string]int, placed []bool) bool {
	for _, req := range dep.Requires {
		if !placed[index[req]] {
			return false
		}
	}

	return true
}

// detectCycles runs a depth-first search over the requires edges keeping
// the current path so the cycle can be reported.
func detectCycles(deps []config.Dependency, index map[string]int) error {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make([]int, len(deps))
	var path []string

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			name := deps[i].Name
			start := 0
			for j, p := range path {
				if p == name {
					start = j
					break
				}
			}

			cycle := append([]string(nil), path[start:]...)
			return &CycleError{Cycle: append(cycle, name)}
		}

		state[i] = visiting
		path = append(path, deps[i].Name)

		for _, req := range deps[i].Requires {
			if err := visit(index[req]); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		state[i] = done

		return nil
	}

	for i := range deps {
		if err := visit(i); err != nil {
			return err
		}
	}

	return nil
}

// Prerequisites returns every direct and transitive prerequisite of dep in
// the order they appear in deps. Unknown names are ignored.
func Prerequisites(deps []config.Dependency, dep config.Dependency) []config.Dependency {
	byName := make(map[string]config.Dependency, len(deps))
	for _, d := range deps {
		byName[d.Name] = d
	}

	seen := make(map[string]bool)

	var walk func(d config.Dependency)
	walk = func(d config.Dependency) {
		for _, req := range d.Requires {
			if seen[req] {
				continue
			}

			seen[req] = true
			if prereq, ok := byName[req]; ok {
				walk(prereq)
			}
		}
	}
	walk(dep)

	var out []config.Dependency
	for _, d := range deps {
		if seen[d.Name] && d.Name != dep.Name {
			out = append(out, d)
		}
	}

	return out
}
