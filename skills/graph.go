package skills

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph 技能依赖有向图：id -> 它依赖的 id 集合。
// 非并发安全，由 DependencyValidator 加锁保护。
type DependencyGraph struct {
	edges map[string]map[string]struct{}
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{edges: make(map[string]map[string]struct{})}
}

// SetEdges 设置节点的出边，返回之前的出边以便回滚。
func (g *DependencyGraph) SetEdges(id string, deps []string) (previous []string, existed bool) {
	if old, ok := g.edges[id]; ok {
		previous = setKeys(old)
		existed = true
	}
	set := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		set[d] = struct{}{}
	}
	g.edges[id] = set
	return previous, existed
}

// Remove deletes a node and its outgoing edges. Incoming edges stay so that
// dependents keep pointing at the missing id.
func (g *DependencyGraph) Remove(id string) {
	delete(g.edges, id)
}

// Has reports whether id is a node.
func (g *DependencyGraph) Has(id string) bool {
	_, ok := g.edges[id]
	return ok
}

// Dependencies returns the sorted direct dependencies of id.
func (g *DependencyGraph) Dependencies(id string) []string {
	return setKeys(g.edges[id])
}

// Dependents returns the sorted ids that depend directly on id.
func (g *DependencyGraph) Dependents(id string) []string {
	var out []string
	for node, deps := range g.edges {
		if _, ok := deps[id]; ok {
			out = append(out, node)
		}
	}
	sort.Strings(out)
	return out
}

// Nodes returns all node ids in sorted order.
func (g *DependencyGraph) Nodes() []string {
	out := make([]string, 0, len(g.edges))
	for id := range g.edges {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int { return len(g.edges) }

// Clone returns a deep copy.
func (g *DependencyGraph) Clone() *DependencyGraph {
	c := NewDependencyGraph()
	for id, deps := range g.edges {
		set := make(map[string]struct{}, len(deps))
		for d := range deps {
			set[d] = struct{}{}
		}
		c.edges[id] = set
	}
	return c
}

const (
	unvisited = iota
	visiting
	visited
)

// FindCycle 从 start 开始深度优先搜索，返回首个环的完整路径（首尾相同），无环返回 nil。
func (g *DependencyGraph) FindCycle(start string) []string {
	state := make(map[string]int)
	var path []string

	var visit func(n string) []string
	visit = func(n string) []string {
		state[n] = visiting
		path = append(path, n)
		for _, dep := range setKeys(g.edges[n]) {
			switch state[dep] {
			case visiting:
				idx := indexOf(path, dep)
				cycle := append(append([]string(nil), path[idx:]...), dep)
				return cycle
			case unvisited:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		state[n] = visited
		return nil
	}
	return visit(start)
}

// TopologicalOrder 使用 Kahn 算法返回加载顺序：被依赖者在前。
// 指向图外节点的边不参与排序。存在环时返回已排序部分和错误，错误中列出剩余节点。
func (g *DependencyGraph) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.edges))
	dependents := make(map[string][]string, len(g.edges))
	for id, deps := range g.edges {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for dep := range deps {
			if _, known := g.edges[dep]; !known {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(g.edges))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		next := dependents[n]
		sort.Strings(next)
		for _, m := range next {
			indegree[m]--
			if indegree[m] == 0 {
				queue = append(queue, m)
			}
		}
	}

	if len(order) != len(g.edges) {
		var rest []string
		for id, d := range indegree {
			if d > 0 {
				rest = append(rest, id)
			}
		}
		sort.Strings(rest)
		return order, fmt.Errorf("%w among: %s", ErrCircularDependency, strings.Join(rest, ", "))
	}
	return order, nil
}

func setKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func indexOf(items []string, v string) int {
	for i, it := range items {
		if it == v {
			return i
		}
	}
	return -1
}
