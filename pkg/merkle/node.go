// Package merkle archives chat transcripts as a content-addressed Merkle DAG.
// Each turn is a node linked to the turn before it, so conversations sharing
// a prefix share nodes.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Bucket types.
const (
	TypeMessage = "message"
	TypeError   = "error"
)

// Bucket is the hashable content of one archived turn.
type Bucket struct {
	// Type is TypeMessage, or TypeError for assistant turns carrying a
	// failed run's error text.
	Type string `json:"type"`

	// Role is "user" or "assistant".
	Role string `json:"role"`

	Text string `json:"text"`

	// Website is the URL the inquiry was answered against.
	Website string `json:"website,omitempty"`

	// Model is the model name that produced an assistant turn.
	Model string `json:"model,omitempty"`
}

// Node represents a single content-addressed node in a Merkle DAG
type Node struct {
	// Hash is the content-addressed identifier (SHA-256, hex-encoded)
	Hash string `json:"hash"`

	// ParentHash links to the previous turn. nil for the first turn of a
	// conversation.
	ParentHash *string `json:"parent_hash"`

	Bucket Bucket `json:"bucket"`
}

// NewNode creates a new node with the computed hash for the provided bucket
func NewNode(bucket Bucket, parent *Node) *Node {
	n := &Node{
		Bucket: bucket,
	}

	if parent != nil {
		h := parent.Hash
		n.ParentHash = &h
	}

	n.Hash = n.computeHash()
	return n
}

// Verify reports whether the node's hash matches its content.
func (n *Node) Verify() bool {
	return n.Hash == n.computeHash()
}

type hashInput struct {
	Parent string `json:"parent,omitempty"`
	Bucket Bucket `json:"bucket"`
}

func (n *Node) computeHash() string {
	in := hashInput{Bucket: n.Bucket}
	if n.ParentHash != nil {
		in.Parent = *n.ParentHash
	}

	// Struct field order makes the encoding canonical.
	data, err := json.Marshal(in)
	if err != nil {
		panic("failed to marshal hash input: " + err.Error())
	}

	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
