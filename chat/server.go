// Package chat serves the web chat: a server-rendered page for people, a JSON
// API for scripts, archive inspection endpoints and an MCP endpoint.
package chat

import (
	"embed"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/merkle"
	"github.com/papercomputeco/supportdesk/pkg/session"
)

// SessionCookie carries the browser's session ID.
const SessionCookie = "supportdesk_session"

// SessionHeader selects a session for API clients without cookies.
const SessionHeader = "X-Session-ID"

//go:embed templates/*.html
var templateFS embed.FS

// Server is the web chat server. Conversation state lives in the session
// registry; every turn is archived in a content-addressable merkle.Storer.
type Server struct {
	config   Config
	registry *session.Registry
	storer   merkle.Storer
	logger   *zap.Logger
	app      *fiber.App
	page     *template.Template
	markdown *markdownRenderer
	stop     chan struct{}
}

// New creates a new Server. mcpServer may be nil to disable the /mcp endpoint.
func New(config Config, registry *session.Registry, storer merkle.Storer, mcpServer *mcp.Server, logger *zap.Logger) (*Server, error) {
	page, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Answers can take a while; keep the connection open for the whole run.
		ReadTimeout: 5 * time.Minute,
		// Form and body values outlive the request inside sessions.
		Immutable: true,
	})

	s := &Server{
		config:   config,
		registry: registry,
		storer:   storer,
		logger:   logger,
		app:      app,
		page:     page,
		markdown: newMarkdownRenderer(),
		stop:     make(chan struct{}),
	}

	app.Use(s.logRequests)

	// Chat page
	app.Get("/", s.handlePage)
	app.Post("/settings", s.handleSettingsForm)
	app.Post("/ask", s.handleAskForm)
	app.Post("/reset", s.handleResetForm)

	// JSON API
	app.Get("/api/settings", s.handleGetSettings)
	app.Post("/api/settings", s.handlePutSettings)
	app.Post("/api/chat", s.handleChat)
	app.Get("/api/history", s.handleGetHistory)
	app.Delete("/api/history", s.handleDeleteHistory)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok", "version": config.Version})
	})

	// DAG inspection endpoints
	app.Get("/dag/stats", s.handleDAGStats)
	app.Get("/dag/node/:hash", s.handleGetNode)
	app.Get("/dag/history", s.handleListHistories)
	app.Get("/dag/history/:hash", s.handleGetDAGHistory)
	app.Post("/dag/nodes", s.handlePutNodes)

	if mcpServer != nil {
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpServer
		}, &mcp.StreamableHTTPOptions{Stateless: true, JSONResponse: true})
		app.All("/mcp", adaptor.HTTPHandler(handler))
	}

	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the server on the configured listening address
func (s *Server) Run() error {
	s.logger.Info("starting chat server", zap.String("listen", s.config.ListenAddr))

	if s.config.SessionIdleTimeout > 0 {
		go s.pruneSessions()
	}
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the server on an existing listener.
func (s *Server) RunWithListener(ln net.Listener) error {
	s.logger.Info("starting chat server", zap.String("listen", ln.Addr().String()))

	if s.config.SessionIdleTimeout > 0 {
		go s.pruneSessions()
	}
	return s.app.Listener(ln)
}

// Close shuts down the server and releases resources.
func (s *Server) Close() error {
	close(s.stop)
	if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
		s.logger.Warn("server shutdown", zap.Error(err))
	}
	return s.storer.Close()
}

func (s *Server) pruneSessions() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.registry.Prune(s.config.SessionIdleTimeout); n > 0 {
				s.logger.Info("pruned idle sessions", zap.Int("count", n))
			}
		}
	}
}

// session returns the caller's session, issuing a cookie for new ones.
func (s *Server) session(c *fiber.Ctx) *session.Session {
	id := c.Get(SessionHeader)
	if id == "" {
		id = c.Cookies(SessionCookie)
	}

	sess := s.registry.GetOrCreate(id)
	if sess.ID() != id {
		c.Cookie(&fiber.Cookie{
			Name:     SessionCookie,
			Value:    sess.ID(),
			Path:     "/",
			HTTPOnly: true,
			Secure:   s.config.SecureCookies,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	c.Set(SessionHeader, sess.ID())
	return sess
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	s.logger.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("duration", time.Since(start)),
	)
	return err
}

// truncate shortens s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
