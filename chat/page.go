package chat

import (
	"bytes"
	"errors"
	"html/template"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/session"
)

type pageData struct {
	HasAPIKey  bool
	WebsiteURL string
	Notice     string
	Turns      []turnView
	Reply      *replyView
}

type turnView struct {
	Role string
	HTML template.HTML
}

type replyView struct {
	Failed   bool
	HTML     template.HTML
	Progress []string
}

func (s *Server) pageData(sess *session.Session, notice string) pageData {
	settings := sess.Settings()
	data := pageData{
		HasAPIKey:  settings.HasAPIKey(),
		WebsiteURL: settings.WebsiteURL,
		Notice:     notice,
	}

	for _, t := range sess.History() {
		data.Turns = append(data.Turns, turnView{
			Role: string(t.Role),
			HTML: s.markdown.render(t.Text),
		})
	}

	if last := sess.LastReply(); last != nil {
		data.Reply = &replyView{
			Failed:   last.Failed,
			HTML:     s.markdown.render(last.Answer),
			Progress: last.Progress,
		}
	}
	return data
}

func (s *Server) renderPage(c *fiber.Ctx, status int, sess *session.Session, notice string) error {
	var buf bytes.Buffer
	if err := s.page.Execute(&buf, s.pageData(sess, notice)); err != nil {
		s.logger.Error("failed to render page", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).SendString("internal error")
	}

	c.Type("html", "utf-8")
	return c.Status(status).Send(buf.Bytes())
}

// handlePage renders the chat page.
func (s *Server) handlePage(c *fiber.Ctx) error {
	return s.renderPage(c, fiber.StatusOK, s.session(c), "")
}

// handleSettingsForm saves the sidebar. A blank key field keeps the saved key.
func (s *Server) handleSettingsForm(c *fiber.Ctx) error {
	sess := s.session(c)

	settings := sess.Settings()
	if key := c.FormValue("api_key"); key != "" {
		settings.APIKey = key
	}
	settings.WebsiteURL = c.FormValue("website_url")

	if err := sess.UpdateSettings(settings); err != nil {
		return s.renderPage(c, fiber.StatusBadRequest, sess, err.Error())
	}
	return c.Redirect("/", fiber.StatusSeeOther)
}

// handleAskForm runs a submission and redirects back to the page, which
// shows the new turns and the workflow.
func (s *Server) handleAskForm(c *fiber.Ctx) error {
	sess := s.session(c)

	_, err := sess.Submit(c.UserContext(), c.FormValue("inquiry"))
	switch {
	case errors.Is(err, session.ErrMissingAPIKey):
		return s.renderPage(c, fiber.StatusUnauthorized, sess, "")
	case errors.Is(err, session.ErrNotReady):
		return s.renderPage(c, fiber.StatusBadRequest, sess, "Enter a website URL and a question.")
	case errors.Is(err, session.ErrBusy):
		return s.renderPage(c, fiber.StatusConflict, sess, "Agents are still working on your previous question.")
	case err != nil:
		s.logger.Error("submission failed", zap.Error(err))
		return s.renderPage(c, fiber.StatusInternalServerError, sess, err.Error())
	}

	return c.Redirect("/", fiber.StatusSeeOther)
}

// handleResetForm clears the conversation.
func (s *Server) handleResetForm(c *fiber.Ctx) error {
	s.session(c).Reset()
	return c.Redirect("/", fiber.StatusSeeOther)
}
