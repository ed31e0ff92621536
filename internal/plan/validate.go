package plan

import (
	"fmt"
	"sort"
	"strings"
)

// ValidateSpec checks PlanSpec topology invariants: producerId shape and
// uniqueness, required fields, unknown/self dependencies, and cycles. All
// violations are collected and returned as one consolidated error, per
// spec.md §6.5. Grounded on the teacher's ValidateTasks/HasCyclicDependencies
// (internal/executor/graph.go, internal/models/task.go), adapted from the
// teacher's numeric task-number scope to producerId strings.
func ValidateSpec(spec PlanSpec) error {
	var problems []string

	if strings.TrimSpace(spec.Name) == "" {
		problems = append(problems, "plan name is required")
	}
	if len(spec.Jobs) == 0 {
		problems = append(problems, "plan must contain at least one job")
	}

	seen := make(map[string]bool, len(spec.Jobs))
	for _, j := range spec.Jobs {
		if !ProducerIDPattern.MatchString(j.ProducerID) {
			problems = append(problems, fmt.Sprintf("job %q: producerId must match %s", j.ProducerID, ProducerIDPattern.String()))
			continue
		}
		if seen[j.ProducerID] {
			problems = append(problems, fmt.Sprintf("job %q: duplicate producerId", j.ProducerID))
			continue
		}
		seen[j.ProducerID] = true
		if strings.TrimSpace(j.Task) == "" {
			problems = append(problems, fmt.Sprintf("job %q: task is required", j.ProducerID))
		}
		if j.Work.Kind == "" {
			problems = append(problems, fmt.Sprintf("job %q: work is required", j.ProducerID))
		}
		if j.BaseBranch != "" && len(j.Dependencies) > 0 {
			problems = append(problems, fmt.Sprintf("job %q: baseBranch override is only allowed on root jobs (no dependencies)", j.ProducerID))
		}
	}

	for _, j := range spec.Jobs {
		for _, dep := range j.Dependencies {
			if dep == j.ProducerID {
				problems = append(problems, fmt.Sprintf("job %q: self-dependency", j.ProducerID))
				continue
			}
			if !seen[dep] {
				problems = append(problems, fmt.Sprintf("job %q: depends on unknown producerId %q", j.ProducerID, dep))
			}
		}
	}

	if cyc := findCycle(spec.Jobs); cyc != "" {
		problems = append(problems, "circular dependency detected: "+cyc)
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("plan validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// findCycle runs DFS with white/gray/black coloring (teacher's
// HasCyclicDependencies pattern) and returns a human-readable cycle
// description, or "" if the graph is acyclic.
func findCycle(jobs []JobSpec) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	deps := make(map[string][]string, len(jobs))
	for _, j := range jobs {
		deps[j.ProducerID] = j.Dependencies
	}
	colors := make(map[string]int, len(jobs))
	var path []string
	var cycle string

	var dfs func(string) bool
	dfs = func(id string) bool {
		colors[id] = gray
		path = append(path, id)
		for _, dep := range deps[id] {
			if colors[dep] == gray {
				cycle = strings.Join(append(append([]string{}, path...), dep), " -> ")
				return true
			}
			if colors[dep] == white {
				if dfs(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		colors[id] = black
		return false
	}

	for _, j := range jobs {
		if colors[j.ProducerID] == white {
			if dfs(j.ProducerID) {
				return cycle
			}
		}
	}
	return ""
}
