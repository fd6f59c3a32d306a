package hierarchy

import (
	"fmt"
	"sort"
	"strings"

	"loanops/internal/domain"
)

// CorruptHierarchyError is returned when stored edges cannot form a forest.
type CorruptHierarchyError struct {
	// UserIDs lists users that could not be placed under any root.
	UserIDs []string
}

func (e *CorruptHierarchyError) Error() string {
	return fmt.Sprintf("hierarchy data is corrupt: users not reachable from any root: %s", strings.Join(e.UserIDs, ", "))
}

// BuildForest assembles the reporting forest. Roots are users with no
// manager edge. Users referenced by an edge but missing from users are
// included with only their id. Siblings are ordered by name, then id.
func BuildForest(users []domain.User, edges []domain.HierarchyEdge) ([]domain.HierarchyNode, error) {
	byID := make(map[string]domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	children := make(map[string][]string)
	hasManager := make(map[string]bool, len(edges))
	for _, e := range edges {
		for _, id := range []string{e.ManagerID, e.SubordinateID} {
			if _, ok := byID[id]; !ok {
				byID[id] = domain.User{ID: id}
			}
		}
		if hasManager[e.SubordinateID] {
			return nil, &CorruptHierarchyError{UserIDs: []string{e.SubordinateID}}
		}
		hasManager[e.SubordinateID] = true
		children[e.ManagerID] = append(children[e.ManagerID], e.SubordinateID)
	}

	less := func(ids []string) func(i, j int) bool {
		return func(i, j int) bool {
			a, b := byID[ids[i]], byID[ids[j]]
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.ID < b.ID
		}
	}

	var roots []string
	for id := range byID {
		if !hasManager[id] {
			roots = append(roots, id)
		}
	}
	sort.Slice(roots, less(roots))

	visited := make(map[string]bool, len(byID))
	var corrupt []string
	var build func(id string, depth int) domain.HierarchyNode
	build = func(id string, depth int) domain.HierarchyNode {
		visited[id] = true
		node := domain.HierarchyNode{User: byID[id], Depth: depth, Subordinates: []domain.HierarchyNode{}}
		kids := append([]string(nil), children[id]...)
		sort.Slice(kids, less(kids))
		for _, kid := range kids {
			if visited[kid] {
				corrupt = append(corrupt, kid)
				continue
			}
			node.Subordinates = append(node.Subordinates, build(kid, depth+1))
		}
		return node
	}

	forest := make([]domain.HierarchyNode, 0, len(roots))
	for _, r := range roots {
		forest = append(forest, build(r, 0))
	}
	for id := range byID {
		if !visited[id] {
			corrupt = append(corrupt, id)
		}
	}
	if len(corrupt) > 0 {
		sort.Strings(corrupt)
		return nil, &CorruptHierarchyError{UserIDs: corrupt}
	}
	return forest, nil
}

// Walk calls fn for every node in the forest, depth first.
func Walk(forest []domain.HierarchyNode, fn func(domain.HierarchyNode)) {
	for _, n := range forest {
		fn(n)
		Walk(n.Subordinates, fn)
	}
}
