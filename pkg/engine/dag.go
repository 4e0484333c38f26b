package engine

import (
	"fmt"
	"sort"
	"strings"
)

// ExecutionGraph is the dependency graph of a flow with execution levels assigned.
type ExecutionGraph struct {
	// Nodes maps task names to graph nodes.
	Nodes map[string]*GraphNode

	// Levels holds task names grouped by execution level, sorted within each level.
	// Tasks at the same level have no dependencies on each other.
	Levels [][]string

	// Roots are the tasks without upstream dependencies.
	Roots []string
}

// GraphNode is a task in the execution graph.
type GraphNode struct {
	Name       string
	Level      int
	Upstream   []string
	Downstream []string
}

// Depth returns the number of execution levels.
func (g *ExecutionGraph) Depth() int {
	return len(g.Levels)
}

// DAGBuilder builds a directed acyclic graph (DAG) from flow tasks.
// It performs topological sorting and assigns execution levels for parallel execution.
type DAGBuilder struct {
	// tasks maps task names to their tasks
	tasks map[string]*Task

	// downstream maps task names to the tasks that depend on them
	downstream map[string][]string

	// upstream maps task names to their dependencies
	upstream map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	// levels maps execution level to task names at that level
	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		tasks:      make(map[string]*Task),
		downstream: make(map[string][]string),
		upstream:   make(map[string][]string),
		inDegree:   make(map[string]int),
		levels:     make([][]string, 0),
	}
}

// BuildGraph constructs an execution graph from flow tasks.
// It validates dependencies, detects cycles, and computes execution levels.
func (b *DAGBuilder) BuildGraph(tasks []Task) (*ExecutionGraph, error) {
	if len(tasks) == 0 {
		return &ExecutionGraph{
			Nodes:  make(map[string]*GraphNode),
			Levels: make([][]string, 0),
			Roots:  make([]string, 0),
		}, nil
	}

	if err := b.initialize(tasks); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.buildExecutionGraph(), nil
}

// initialize sets up the internal data structures from tasks.
func (b *DAGBuilder) initialize(tasks []Task) error {
	for i := range tasks {
		task := &tasks[i]
		if task.Name == "" {
			return NewLoadFailure("task has empty name", nil).
				WithCode(ErrCodeValidation)
		}

		if _, exists := b.tasks[task.Name]; exists {
			return NewLoadFailure(fmt.Sprintf("duplicate task name: %s", task.Name), nil).
				WithCode(ErrCodeValidation)
		}

		b.tasks[task.Name] = task
		b.downstream[task.Name] = make([]string, 0)
		b.upstream[task.Name] = make([]string, 0)
		b.inDegree[task.Name] = 0
	}

	for _, name := range b.sortedNames() {
		task := b.tasks[name]
		for _, dep := range task.DependsOn {
			if _, exists := b.tasks[dep]; !exists {
				return NewLoadFailure(
					fmt.Sprintf("task %s depends on unknown task %s", task.Name, dep),
					nil,
				).WithCode(ErrCodeValidation).WithTask(task.Name)
			}
			if dep == task.Name {
				return NewLoadFailure(fmt.Sprintf("task %s depends on itself", task.Name), nil).
					WithCode(ErrCodeValidation).WithTask(task.Name)
			}

			// Edge from dependency to task: the dependency must finish first
			b.downstream[dep] = append(b.downstream[dep], task.Name)
			b.upstream[task.Name] = append(b.upstream[task.Name], dep)
			b.inDegree[task.Name]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, name := range b.sortedNames() {
		if visited[name] {
			continue
		}
		if cycle := b.findCycle(name, visited, recStack, nil); cycle != nil {
			return NewLoadFailure(
				fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")),
				nil,
			).WithCode(ErrCodeValidation)
		}
	}

	return nil
}

// findCycle performs DFS from name and returns the cycle path if one is found.
func (b *DAGBuilder) findCycle(name string, visited, recStack map[string]bool, path []string) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, next := range b.downstream[name] {
		if !visited[next] {
			if cycle := b.findCycle(next, visited, recStack, path); cycle != nil {
				return cycle
			}
			continue
		}
		if recStack[next] {
			for i, id := range path {
				if id == next {
					cycle := append([]string{}, path[i:]...)
					return append(cycle, next)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}

// computeLevels assigns execution levels to each task using Kahn's algorithm.
func (b *DAGBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for name, degree := range b.inDegree {
		inDegree[name] = degree
	}

	current := make([]string, 0)
	for _, name := range b.sortedNames() {
		if inDegree[name] == 0 {
			current = append(current, name)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, name := range current {
			for _, dependent := range b.downstream[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(b.tasks) {
		return NewLoadFailure("failed to order all tasks - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}

	return nil
}

// buildExecutionGraph creates the final ExecutionGraph structure.
func (b *DAGBuilder) buildExecutionGraph() *ExecutionGraph {
	graph := &ExecutionGraph{
		Nodes:  make(map[string]*GraphNode, len(b.tasks)),
		Levels: b.levels,
		Roots:  make([]string, 0),
	}

	for level, names := range b.levels {
		for _, name := range names {
			graph.Nodes[name] = &GraphNode{
				Name:       name,
				Level:      level,
				Upstream:   b.upstream[name],
				Downstream: b.downstream[name],
			}
			if level == 0 {
				graph.Roots = append(graph.Roots, name)
			}
		}
	}

	return graph
}

// GetLevels returns the computed execution levels.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT generates a DOT format representation of the DAG for visualization.
// The output can be rendered with Graphviz tools.
func (b *DAGBuilder) ToDOT(flowName string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("digraph %q {\n", flowName))
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, names := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, name := range names {
			task := b.tasks[name]
			sb.WriteString(fmt.Sprintf("    %q [label=\"%s\\n%s\"];\n", name, name, task.Kind))
		}

		sb.WriteString("  }\n\n")
	}

	for _, name := range b.sortedNames() {
		task := b.tasks[name]
		style := "style=solid"
		if task.EffectiveTrigger() == TriggerAlways {
			style = "style=dashed"
		}
		for _, dep := range task.DependsOn {
			sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", dep, name, style))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func (b *DAGBuilder) sortedNames() []string {
	names := make([]string, 0, len(b.tasks))
	for name := range b.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
