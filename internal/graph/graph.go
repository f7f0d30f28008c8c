// internal/graph/graph.go
package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weftlabs/loom/internal/models"
)

// TaskGraph is an in-memory acyclic dependency graph of task nodes. It is
// built fresh per run (usually from a stored pattern), driven by a single
// scheduling loop polling ReadyTasks, and discarded once its final state has
// been persisted as an execution record.
//
// Acyclicity is enforced at edge-insertion time: a rejected call leaves the
// graph byte-for-byte unchanged. All methods are safe for concurrent use;
// a single RWMutex guards the node and edge maps so readers never observe a
// half-inserted edge.
type TaskGraph struct {
	mu sync.RWMutex

	// nodes maps task id -> node. edges maps a task to the tasks it
	// unblocks; reverseEdges maps a task to the tasks it is blocked by.
	nodes        map[string]*models.TaskNode
	edges        map[string][]string
	reverseEdges map[string][]string

	createdAt time.Time
}

// New creates an empty task graph.
func New() *TaskGraph {
	return &TaskGraph{
		nodes:        make(map[string]*models.TaskNode),
		edges:        make(map[string][]string),
		reverseEdges: make(map[string][]string),
		createdAt:    time.Now().UTC(),
	}
}

// CreatedAt returns when this graph instance was built. Persisted executions
// use it as the run's start timestamp.
func (g *TaskGraph) CreatedAt() time.Time {
	return g.createdAt
}

// AddTask creates a pending node and returns its generated id. When
// dependencies are given, every id must already exist in the graph; a
// missing one fails with a NotFoundError naming it, before anything is
// inserted. A fresh node cannot be depended upon yet, so wiring its
// dependencies can never introduce a cycle.
func (g *TaskGraph) AddTask(taskType string, config models.Payload, dependencies []string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, dep := range dependencies {
		if _, ok := g.nodes[dep]; !ok {
			return "", &NotFoundError{ID: dep}
		}
	}

	node := models.NewTaskNode(taskType, config)
	g.nodes[node.TaskID] = node
	g.edges[node.TaskID] = make([]string, 0)
	g.reverseEdges[node.TaskID] = make([]string, 0)

	for _, dep := range dependencies {
		g.insertEdge(dep, node.TaskID)
	}

	return node.TaskID, nil
}

// SetDependency records that dependentID cannot start until dependencyID has
// completed. Both ids must exist. The cycle check runs to completion before
// any state is touched, so a rejected call leaves the graph unchanged.
// Re-declaring an existing dependency is a no-op.
func (g *TaskGraph) SetDependency(dependencyID, dependentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[dependencyID]; !ok {
		return &NotFoundError{ID: dependencyID}
	}
	if _, ok := g.nodes[dependentID]; !ok {
		return &NotFoundError{ID: dependentID}
	}

	// The edge closes a cycle exactly when the dependency already depends,
	// transitively, on the dependent. Walk the dependency's own dependency
	// chain looking for the dependent (covers self-dependencies too).
	if g.reachable(dependencyID, dependentID) {
		return &CycleError{DependencyID: dependencyID, DependentID: dependentID}
	}

	g.insertEdge(dependencyID, dependentID)
	return nil
}

// insertEdge appends to both adjacency maps with dedup and keeps the
// dependent node's declared dependency list in sync. Callers hold the lock.
func (g *TaskGraph) insertEdge(dependencyID, dependentID string) {
	if !contains(g.edges[dependencyID], dependentID) {
		g.edges[dependencyID] = append(g.edges[dependencyID], dependentID)
	}
	if !contains(g.reverseEdges[dependentID], dependencyID) {
		g.reverseEdges[dependentID] = append(g.reverseEdges[dependentID], dependencyID)
		node := g.nodes[dependentID]
		node.Dependencies = append(node.Dependencies, dependencyID)
	}
}

// reachable reports whether target can be reached from start by walking
// reverse edges (dependency direction). Iterative DFS with an explicit
// stack, so graph size never runs into a recursion limit.
func (g *TaskGraph) reachable(start, target string) bool {
	stack := []string{start}
	visited := make(map[string]bool, len(g.nodes))

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current == target {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		stack = append(stack, g.reverseEdges[current]...)
	}
	return false
}

// ExecutionOrder returns every task id in dependency order: for any edge,
// the dependency appears strictly before its dependents. The order among
// independent tasks is unspecified but deterministic: roots are visited in
// sorted id order and adjacency lists in insertion order.
//
// Insertion-time checks make a cycle unreachable here; a gray node seen
// twice still reports ErrCycle.
func (g *TaskGraph) ExecutionOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = iota // unvisited
		gray         // on the current DFS path
		black        // finished
	)

	color := make(map[string]int, len(g.nodes))
	order := make([]string, 0, len(g.nodes))

	type frame struct {
		id   string
		next int
	}

	for _, root := range g.sortedTaskIDs() {
		if color[root] != white {
			continue
		}
		color[root] = gray
		stack := []frame{{id: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.reverseEdges[top.id]

			if top.next < len(deps) {
				child := deps[top.next]
				top.next++
				switch color[child] {
				case white:
					color[child] = gray
					stack = append(stack, frame{id: child})
				case gray:
					return nil, fmt.Errorf("execution order for %s: %w", child, ErrCycle)
				}
				continue
			}

			color[top.id] = black
			order = append(order, top.id)
			stack = stack[:len(stack)-1]
		}
	}

	return order, nil
}

// ReadyTasks returns the ids of every pending task whose dependencies have
// all completed, in sorted order. The set is recomputed from scratch on each
// call; executor loops poll it repeatedly as tasks finish.
func (g *TaskGraph) ReadyTasks() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ready := make([]string, 0)
	for _, id := range g.sortedTaskIDs() {
		node := g.nodes[id]
		if node.Status != models.TaskStatusPending {
			continue
		}
		if g.dependenciesCompleted(id) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *TaskGraph) dependenciesCompleted(id string) bool {
	for _, dep := range g.reverseEdges[id] {
		if g.nodes[dep].Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// UpdateTaskStatus moves a task through its lifecycle, stamping start and
// end times and recording the result or error on terminal transitions.
func (g *TaskGraph) UpdateTaskStatus(taskID string, status models.TaskStatus, result models.Payload, taskErr error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[taskID]
	if !ok {
		return &NotFoundError{ID: taskID}
	}

	var errMsg *string
	if taskErr != nil {
		msg := taskErr.Error()
		errMsg = &msg
	}

	node.ApplyStatus(status, result, errMsg)
	return nil
}

// TaskInfo returns a copy of the node plus the ids it unblocks and the ids
// it waits on.
func (g *TaskGraph) TaskInfo(taskID string) (*models.TaskInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[taskID]
	if !ok {
		return nil, &NotFoundError{ID: taskID}
	}

	return &models.TaskInfo{
		Task:         node.Clone(),
		Dependents:   append([]string(nil), g.edges[taskID]...),
		Dependencies: append([]string(nil), g.reverseEdges[taskID]...),
	}, nil
}

// State returns a deep snapshot of the whole graph for persistence. Mutating
// the graph afterwards does not affect the snapshot, and vice versa.
func (g *TaskGraph) State() *models.GraphState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	state := &models.GraphState{
		Nodes:        make(map[string]*models.TaskNode, len(g.nodes)),
		Edges:        make(map[string][]string, len(g.edges)),
		ReverseEdges: make(map[string][]string, len(g.reverseEdges)),
	}
	for id, node := range g.nodes {
		state.Nodes[id] = node.Clone()
	}
	for id, dependents := range g.edges {
		state.Edges[id] = append([]string(nil), dependents...)
	}
	for id, deps := range g.reverseEdges {
		state.ReverseEdges[id] = append([]string(nil), deps...)
	}
	return state
}

// Len returns the number of tasks in the graph.
func (g *TaskGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *TaskGraph) sortedTaskIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
