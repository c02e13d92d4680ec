package chat

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/llm"
	"github.com/papercomputeco/supportdesk/pkg/merkle"
)

// DAGHistoryResponse is an archived conversation ending at HeadHash.
type DAGHistoryResponse struct {
	// Messages in chronological order (oldest first, up to and including the requested node)
	Messages []DAGMessage `json:"messages"`
	HeadHash string       `json:"head_hash"`
	Depth    int          `json:"depth"`
}

// DAGMessage is one archived turn.
type DAGMessage struct {
	Hash       string  `json:"hash"`
	ParentHash *string `json:"parent_hash,omitempty"`
	Type       string  `json:"type"`
	Role       string  `json:"role"`
	Text       string  `json:"text"`
	Website    string  `json:"website,omitempty"`
	Model      string  `json:"model,omitempty"`
}

// PutNodesResponse reports the outcome of a node upload.
type PutNodesResponse struct {
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
	Errors    int `json:"errors"`
}

// handleDAGStats returns statistics about the archive.
func (s *Server) handleDAGStats(c *fiber.Ctx) error {
	stats, err := merkle.ComputeStats(c.Context(), s.storer)
	if err != nil {
		s.logger.Error("failed to compute stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to compute stats"})
	}
	return c.JSON(stats)
}

// handleGetNode returns a single node by its hash.
func (s *Server) handleGetNode(c *fiber.Ctx) error {
	node, err := s.storer.Get(c.Context(), c.Params("hash"))
	if merkle.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "node not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to get node"})
	}
	return c.JSON(node)
}

// handleListHistories returns every archived conversation (one per leaf).
func (s *Server) handleListHistories(c *fiber.Ctx) error {
	ctx := c.Context()

	leaves, err := s.storer.Leaves(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to get leaves"})
	}

	histories := make([]DAGHistoryResponse, 0, len(leaves))
	for _, leaf := range leaves {
		history, err := s.buildHistory(ctx, leaf.Hash)
		if err != nil {
			s.logger.Warn("failed to build history for leaf", zap.String("hash", leaf.Hash), zap.Error(err))
			continue
		}
		histories = append(histories, *history)
	}

	return c.JSON(map[string]any{
		"count":     len(histories),
		"histories": histories,
	})
}

// handleGetDAGHistory returns the conversation leading up to a node.
func (s *Server) handleGetDAGHistory(c *fiber.Ctx) error {
	history, err := s.buildHistory(c.Context(), c.Params("hash"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "node not found"})
	}
	return c.JSON(history)
}

// handlePutNodes accepts nodes pushed from another archive. Nodes whose hash
// does not match their content are counted as errors and skipped.
func (s *Server) handlePutNodes(c *fiber.Ctx) error {
	var nodes []*merkle.Node
	if err := json.Unmarshal(c.Body(), &nodes); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	var resp PutNodesResponse
	for _, n := range nodes {
		if n == nil || !n.Verify() {
			resp.Errors++
			continue
		}

		isNew, err := s.storer.Put(c.Context(), n)
		switch {
		case err != nil:
			s.logger.Warn("failed to store pushed node", zap.String("hash", n.Hash), zap.Error(err))
			resp.Errors++
		case isNew:
			resp.New++
		default:
			resp.Duplicate++
		}
	}

	s.logger.Info("nodes pushed",
		zap.Int("new", resp.New),
		zap.Int("duplicate", resp.Duplicate),
		zap.Int("errors", resp.Errors),
	)
	return c.JSON(resp)
}

func (s *Server) buildHistory(ctx context.Context, hash string) (*DAGHistoryResponse, error) {
	conv, err := merkle.Conversation(ctx, s.storer, hash)
	if err != nil {
		return nil, err
	}

	messages := make([]DAGMessage, len(conv))
	for i, node := range conv {
		messages[i] = DAGMessage{
			Hash:       node.Hash,
			ParentHash: node.ParentHash,
			Type:       node.Bucket.Type,
			Role:       node.Bucket.Role,
			Text:       node.Bucket.Text,
			Website:    node.Bucket.Website,
			Model:      node.Bucket.Model,
		}
	}

	return &DAGHistoryResponse{
		Messages: messages,
		HeadHash: hash,
		Depth:    len(messages),
	}, nil
}
