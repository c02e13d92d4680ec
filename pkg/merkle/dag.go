package merkle

import (
	"context"
	"fmt"
	"slices"
)

// maxDepth guards traversal against cycles in a corrupted store.
const maxDepth = 100000

// Ancestry returns the path from a node back to its root (node first, root last).
func Ancestry(ctx context.Context, s Storer, hash string) ([]*Node, error) {
	var path []*Node
	current := hash

	for range maxDepth {
		node, err := s.Get(ctx, current)
		if err != nil {
			return nil, err
		}
		path = append(path, node)

		if node.ParentHash == nil {
			return path, nil
		}
		current = *node.ParentHash
	}
	return nil, fmt.Errorf("ancestry of %s exceeds %d nodes", hash, maxDepth)
}

// Conversation returns the path from the root to a node (root first).
func Conversation(ctx context.Context, s Storer, hash string) ([]*Node, error) {
	path, err := Ancestry(ctx, s, hash)
	if err != nil {
		return nil, err
	}
	slices.Reverse(path)
	return path, nil
}

// Depth returns the number of ancestors of a node (0 for roots).
func Depth(ctx context.Context, s Storer, hash string) (int, error) {
	path, err := Ancestry(ctx, s, hash)
	if err != nil {
		return 0, err
	}
	return len(path) - 1, nil
}

// Stats summarizes an archive.
type Stats struct {
	TotalNodes int `json:"total_nodes"`
	RootCount  int `json:"root_count"`
	LeafCount  int `json:"leaf_count"`
}

// ComputeStats counts the nodes, roots and leaves of s.
func ComputeStats(ctx context.Context, s Storer) (*Stats, error) {
	nodes, err := s.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	roots, err := s.Roots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	leaves, err := s.Leaves(ctx)
	if err != nil {
		return nil, fmt.Errorf("list leaves: %w", err)
	}

	return &Stats{
		TotalNodes: len(nodes),
		RootCount:  len(roots),
		LeafCount:  len(leaves),
	}, nil
}

// Copy puts every node of src into dst, parents before children, and
// returns how many were new.
func Copy(ctx context.Context, dst, src Storer) (added, existing int, err error) {
	nodes, err := src.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list source nodes: %w", err)
	}

	for _, n := range nodes {
		isNew, err := dst.Put(ctx, n)
		if err != nil {
			return added, existing, fmt.Errorf("put node %s: %w", n.Hash, err)
		}
		if isNew {
			added++
		} else {
			existing++
		}
	}
	return added, existing, nil
}
