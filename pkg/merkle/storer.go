package merkle

import (
	"context"
	"errors"
)

// Storer persists and traverses archived turns. Identical content with an
// identical parent produces an identical hash and is stored once.
type Storer interface {
	// Put stores a node and reports whether it was new. Storing an existing
	// hash is a no-op.
	Put(ctx context.Context, node *Node) (bool, error)

	// Get retrieves a node by its hash. Returns ErrNotFound if the node doesn't exist.
	Get(ctx context.Context, hash string) (*Node, error)

	// Has checks if a node exists by its hash.
	Has(ctx context.Context, hash string) (bool, error)

	// GetByParent retrieves all nodes that have the given parent hash.
	// Pass nil to get root nodes.
	GetByParent(ctx context.Context, parentHash *string) ([]*Node, error)

	// List returns all nodes in the store.
	List(ctx context.Context) ([]*Node, error)

	// Roots returns all nodes without a parent.
	Roots(ctx context.Context) ([]*Node, error)

	// Leaves returns all nodes without children.
	Leaves(ctx context.Context) ([]*Node, error)

	// Close releases any resources.
	Close() error
}

// ErrNilNode is returned when putting a nil node.
var ErrNilNode = errors.New("cannot store nil node")

// ErrNotFound is returned when a node doesn't exist in the store.
type ErrNotFound struct {
	Hash string
}

func (e ErrNotFound) Error() string {
	if e.Hash == "" {
		return "node not found"
	}

	return "node not found: " + e.Hash
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
