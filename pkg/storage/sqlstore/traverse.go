package sqlstore

import (
	"context"
	"fmt"

	"github.com/oceanbase/powermem-recall/pkg/errs"
	"github.com/oceanbase/powermem-recall/pkg/storage"
)

// Neighbors walks the graph breadth-first from node, following the same
// adjacency as GetRelated, and returns each reachable node once with the
// depth and relation that first reached it. The start node is never returned.
func (s *Store) Neighbors(ctx context.Context, node string, maxDepth int, relType string) ([]*storage.Neighbor, error) {
	if maxDepth < 1 {
		return nil, fmt.Errorf("Neighbors: %w: depth must be at least 1", errs.ErrInvalidInput)
	}

	visited := map[string]bool{node: true}
	frontier := []string{node}
	var result []*storage.Neighbor

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, current := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			related, err := s.GetRelated(ctx, current, relType)
			if err != nil {
				return nil, fmt.Errorf("Neighbors: %w", err)
			}
			for _, rel := range related {
				if visited[rel.OtherID] {
					continue
				}
				visited[rel.OtherID] = true
				result = append(result, &storage.Neighbor{NodeID: rel.OtherID, Depth: depth, Via: *rel})
				next = append(next, rel.OtherID)
			}
		}
		frontier = next
	}

	return result, nil
}

// GetAncestors returns every transitive parent of node, nearest first.
func (s *Store) GetAncestors(ctx context.Context, node, hierarchyType string) ([]string, error) {
	return s.walkHierarchy(ctx, node, func(id string) ([]string, error) {
		links, err := s.GetParents(ctx, id, hierarchyType)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(links))
		for i, link := range links {
			ids[i] = link.ParentID
		}
		return ids, nil
	})
}

// GetDescendants returns every transitive child of node, nearest first.
func (s *Store) GetDescendants(ctx context.Context, node, hierarchyType string) ([]string, error) {
	return s.walkHierarchy(ctx, node, func(id string) ([]string, error) {
		links, err := s.GetChildren(ctx, id, hierarchyType)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(links))
		for i, link := range links {
			ids[i] = link.ChildID
		}
		return ids, nil
	})
}

// walkHierarchy is a breadth-first walk with a visited set, so cyclic
// hierarchies terminate.
func (s *Store) walkHierarchy(ctx context.Context, node string, step func(string) ([]string, error)) ([]string, error) {
	visited := map[string]bool{node: true}
	queue := []string{node}
	var result []string

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue[0]
		queue = queue[1:]

		next, err := step(current)
		if err != nil {
			return nil, err
		}
		for _, id := range next {
			if visited[id] {
				continue
			}
			visited[id] = true
			result = append(result, id)
			queue = append(queue, id)
		}
	}

	return result, nil
}
