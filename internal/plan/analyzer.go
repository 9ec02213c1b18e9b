// Package plan turns a validated IntentIR into executed Observations:
// dependency analysis into parallel levels, per-step execution with
// retries and recording, and level-by-level dispatch over a bounded
// worker pool.
package plan

import (
	"fmt"
	"strings"

	"zenus/internal/logging"
	"zenus/internal/tools"
	"zenus/internal/types"
)

// Analysis is the output of dependency analysis.
type Analysis struct {
	// Levels holds step indices; every index in level k only depends on
	// indices in levels 0..k-1.
	Levels [][]int

	// Sequential is set when the plan fell back to one-step-per-level
	// because the estimated speedup did not justify concurrency.
	Sequential bool
}

// SpeedupFactor is steps per level; 4 independent steps in one level
// score 4.0.
func (a Analysis) SpeedupFactor(steps int) float64 {
	if len(a.Levels) == 0 {
		return 1
	}
	return float64(steps) / float64(len(a.Levels))
}

// minSpeedup is the concurrency cutoff: below this, scheduling overhead
// beats the win and the plan runs sequentially.
const minSpeedup = 1.3

// Analyzer derives conflict edges between steps from their argument
// resources and tool classes.
type Analyzer struct {
	registry *tools.Registry
}

// NewAnalyzer creates an analyzer resolving tool classes through the
// registry.
func NewAnalyzer(registry *tools.Registry) *Analyzer {
	return &Analyzer{registry: registry}
}

// Analyze layers the steps into parallelizable levels.
func (a *Analyzer) Analyze(steps []types.Step) (Analysis, error) {
	n := len(steps)
	res := make([]stepResources, n)
	for i, s := range steps {
		res[i] = a.resources(s)
	}

	// edges[i] holds successors j > i.
	edges := make([][]int, n)
	indegree := make([]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if conflicts(res[i], res[j]) {
				edges[i] = append(edges[i], j)
				indegree[j]++
			}
		}
	}

	levels, err := layer(n, edges, indegree)
	if err != nil {
		return Analysis{}, err
	}

	analysis := Analysis{Levels: levels}
	if analysis.SpeedupFactor(n) < minSpeedup {
		analysis = sequentialFallback(n)
	}
	logging.PlanDebug("analyzed %d steps into %d levels (sequential=%v)", n, len(analysis.Levels), analysis.Sequential)
	return analysis, nil
}

// layer performs Kahn-style topological layering.
func layer(n int, edges [][]int, indegree []int) ([][]int, error) {
	placed := 0
	var levels [][]int
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	for len(ready) > 0 {
		level := ready
		levels = append(levels, level)
		placed += len(level)
		ready = nil
		for _, i := range level {
			for _, j := range edges[i] {
				indegree[j]--
				if indegree[j] == 0 {
					ready = append(ready, j)
				}
			}
		}
	}
	if placed != n {
		return nil, fmt.Errorf("%w: %d of %d steps unplaceable", ErrPlanCycle, n-placed, n)
	}
	return levels, nil
}

func sequentialFallback(n int) Analysis {
	levels := make([][]int, n)
	for i := 0; i < n; i++ {
		levels[i] = []int{i}
	}
	return Analysis{Levels: levels, Sequential: true}
}

// stepResources is what one step touches, extracted from its arguments.
type stepResources struct {
	class    tools.Class
	mutating bool

	readPaths  []string
	writePaths []string
	packages   []string
	services   []string
	containers []string
	urls       []string
}

// argument keys treated as filesystem paths; dest-like keys are writes
// for mutating actions.
var (
	readPathKeys  = []string{"src", "file"}
	writePathKeys = []string{"path", "dest"}
)

func (a *Analyzer) resources(s types.Step) stepResources {
	r := stepResources{}
	if t := a.registry.Get(s.Tool); t != nil {
		r.class = t.Class
		if act, ok := t.Actions[s.Action]; ok {
			r.mutating = act.Mutating
		}
	}

	path := func(key string) string {
		v, _ := s.Args[key].(string)
		return v
	}
	for _, key := range readPathKeys {
		if p := path(key); p != "" {
			r.readPaths = append(r.readPaths, p)
		}
	}
	for _, key := range writePathKeys {
		if p := path(key); p != "" {
			if r.mutating {
				r.writePaths = append(r.writePaths, p)
			} else {
				r.readPaths = append(r.readPaths, p)
			}
		}
	}

	if name := path("name"); name != "" {
		switch r.class {
		case tools.ClassPackage:
			r.packages = append(r.packages, name)
		case tools.ClassService:
			r.services = append(r.services, name)
		case tools.ClassContainer:
			r.containers = append(r.containers, name)
		}
	}
	if id := path("id"); id != "" && r.class == tools.ClassContainer {
		r.containers = append(r.containers, id)
	}
	if url := path("url"); url != "" {
		r.urls = append(r.urls, url)
	}
	return r
}

// conflicts reports whether step j (later in IR order) must wait for
// step i.
func conflicts(i, j stepResources) bool {
	// Serializing classes never run concurrently with each other.
	if i.class == j.class && i.class.Serializing() {
		return true
	}

	// Same file path where at least one side writes.
	if pathOverlap(i.writePaths, j.writePaths) ||
		pathOverlap(i.writePaths, j.readPaths) ||
		pathOverlap(i.readPaths, j.writePaths) {
		return true
	}

	// j consumes a path i produces or modifies, including paths under a
	// directory i creates.
	for _, w := range i.writePaths {
		for _, p := range append(append([]string{}, j.readPaths...), j.writePaths...) {
			if p == w || strings.HasPrefix(p, strings.TrimSuffix(w, "/")+"/") {
				return true
			}
		}
	}

	if overlap(i.packages, j.packages) || overlap(i.services, j.services) ||
		overlap(i.containers, j.containers) {
		return true
	}

	// Identical URL where one side mutates.
	if (i.mutating || j.mutating) && overlap(i.urls, j.urls) {
		return true
	}
	return false
}

func overlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func pathOverlap(a, b []string) bool {
	return overlap(a, b)
}
