package chat

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/llm"
	"github.com/papercomputeco/supportdesk/pkg/session"
)

// SettingsRequest updates a session's settings. Nil fields are left alone.
type SettingsRequest struct {
	APIKey     *string `json:"api_key"`
	WebsiteURL *string `json:"website_url"`
}

// SettingsResponse never echoes the key.
type SettingsResponse struct {
	SessionID  string `json:"session_id"`
	HasAPIKey  bool   `json:"has_api_key"`
	WebsiteURL string `json:"website_url"`
}

// ChatRequest submits one inquiry.
type ChatRequest struct {
	Inquiry string `json:"inquiry"`
}

// HistoryResponse lists a session's retained turns, oldest first.
type HistoryResponse struct {
	SessionID string                 `json:"session_id"`
	Turns     []llm.ConversationTurn `json:"turns"`
	HeadHash  string                 `json:"head_hash,omitempty"`
}

func settingsResponse(sess *session.Session) SettingsResponse {
	settings := sess.Settings()
	return SettingsResponse{
		SessionID:  sess.ID(),
		HasAPIKey:  settings.HasAPIKey(),
		WebsiteURL: settings.WebsiteURL,
	}
}

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	return c.JSON(settingsResponse(s.session(c)))
}

func (s *Server) handlePutSettings(c *fiber.Ctx) error {
	sess := s.session(c)

	var req SettingsRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	settings := sess.Settings()
	if req.APIKey != nil {
		settings.APIKey = *req.APIKey
	}
	if req.WebsiteURL != nil {
		settings.WebsiteURL = *req.WebsiteURL
	}

	if err := sess.UpdateSettings(settings); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(settingsResponse(sess))
}

// handleChat runs a submission. Pipeline failures are answers, reported with
// 200 and failed=true; only gate failures are HTTP errors.
func (s *Server) handleChat(c *fiber.Ctx) error {
	sess := s.session(c)

	var req ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.logger.Error("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	s.logger.Debug("received chat request",
		zap.String("session_id", sess.ID()),
		zap.String("inquiry_preview", truncate(req.Inquiry, 100)),
	)

	reply, err := sess.Submit(c.UserContext(), req.Inquiry)
	switch {
	case errors.Is(err, session.ErrMissingAPIKey):
		return c.Status(fiber.StatusUnauthorized).JSON(llm.ErrorResponse{Error: err.Error()})
	case errors.Is(err, session.ErrNotReady):
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
	case errors.Is(err, session.ErrBusy):
		return c.Status(fiber.StatusConflict).JSON(llm.ErrorResponse{Error: err.Error()})
	case err != nil:
		s.logger.Error("submission failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(reply)
}

func (s *Server) handleGetHistory(c *fiber.Ctx) error {
	sess := s.session(c)
	return c.JSON(HistoryResponse{
		SessionID: sess.ID(),
		Turns:     sess.History(),
		HeadHash:  sess.Head(),
	})
}

func (s *Server) handleDeleteHistory(c *fiber.Ctx) error {
	s.session(c).Reset()
	return c.SendStatus(fiber.StatusNoContent)
}
