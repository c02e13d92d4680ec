// Package session holds the per-browser chat state and handles submissions:
// it gates on settings, runs the pipeline one submission at a time and
// records both turns of every exchange.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/history"
	"github.com/papercomputeco/supportdesk/pkg/llm"
	"github.com/papercomputeco/supportdesk/pkg/merkle"
	"github.com/papercomputeco/supportdesk/pkg/pipeline"
	"github.com/papercomputeco/supportdesk/pkg/progress"
	"github.com/papercomputeco/supportdesk/pkg/provider"
	"github.com/papercomputeco/supportdesk/pkg/scrape"
)

var (
	// ErrMissingAPIKey halts a submission before anything else happens.
	ErrMissingAPIKey = &pipeline.Error{
		Kind:  pipeline.KindConfiguration,
		Stage: pipeline.StageIdle,
		Err:   provider.ErrMissingAPIKey,
	}

	// ErrNotReady is returned when the website URL or the inquiry is missing.
	ErrNotReady = errors.New("a website URL and an inquiry are required")

	// ErrBusy is returned while another submission of the session runs.
	ErrBusy = errors.New("a submission is already in progress")
)

// Settings are the sidebar inputs of a session.
type Settings struct {
	APIKey     string `json:"-"`
	WebsiteURL string `json:"website_url"`
}

// HasAPIKey reports whether a key was supplied.
func (s Settings) HasAPIKey() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// Reply is the outcome of one submission.
type Reply struct {
	Inquiry  string             `json:"inquiry"`
	Answer   string             `json:"answer"`
	Failed   bool               `json:"failed"`
	Kind     pipeline.ErrorKind `json:"error_kind,omitempty"`
	Progress []string           `json:"progress"`
	RunID    string             `json:"run_id"`
	Usage    llm.Usage          `json:"usage"`
	Elapsed  time.Duration      `json:"elapsed"`
}

// Deps are shared by every session of a process.
type Deps struct {
	Pipeline *pipeline.Pipeline

	// Config is the base pipeline configuration. The session's API key is
	// filled in per submission.
	Config pipeline.Config

	HistoryLimit  int
	ProgressLimit int

	// Archive receives every turn. Nil disables archiving.
	Archive merkle.Storer

	Logger *zap.Logger
}

// Session is one chat. It is safe for concurrent use; submissions are
// serialized and a second concurrent one fails with ErrBusy.
type Session struct {
	id   string
	deps Deps

	// run is held for the whole of a submission.
	run sync.Mutex

	mu       sync.Mutex
	settings Settings
	last     *Reply
	head     *merkle.Node
	updated  time.Time

	history *history.History
	logger  *zap.Logger
}

// New creates a session. Zero limits use the package defaults.
func New(id string, settings Settings, deps Deps) *Session {
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = history.DefaultLimit
	}
	if deps.ProgressLimit <= 0 {
		deps.ProgressLimit = progress.DefaultLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		id:       id,
		deps:     deps,
		settings: settings,
		updated:  time.Now(),
		history:  history.New(deps.HistoryLimit),
		logger:   logger.With(zap.String("session_id", id)),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Settings returns the current settings.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings replaces the settings. A non-empty URL is normalized and
// must use http or https.
func (s *Session) UpdateSettings(settings Settings) error {
	settings.APIKey = strings.TrimSpace(settings.APIKey)
	settings.WebsiteURL = strings.TrimSpace(settings.WebsiteURL)
	if settings.WebsiteURL != "" {
		normalized, err := scrape.NormalizeURL(settings.WebsiteURL)
		if err != nil {
			return err
		}
		settings.WebsiteURL = normalized
	}

	s.mu.Lock()
	s.settings = settings
	s.updated = time.Now()
	s.mu.Unlock()

	s.logger.Debug("settings updated",
		zap.Bool("has_api_key", settings.HasAPIKey()),
		zap.String("website", settings.WebsiteURL),
	)
	return nil
}

// History returns the retained turns, oldest first.
func (s *Session) History() []llm.ConversationTurn {
	return s.history.Turns()
}

// LastReply returns the most recent reply, or nil.
func (s *Session) LastReply() *Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Busy reports whether a submission is running.
func (s *Session) Busy() bool {
	if s.run.TryLock() {
		s.run.Unlock()
		return false
	}
	return true
}

// Reset clears history and the last reply. Settings are kept. A reset
// requested during a submission waits for it and clears its turns too.
func (s *Session) Reset() {
	s.run.Lock()
	defer s.run.Unlock()

	s.history.Reset()

	s.mu.Lock()
	s.last = nil
	s.head = nil
	s.updated = time.Now()
	s.mu.Unlock()

	s.logger.Info("session reset")
}

// Submit answers inquiry. Gate failures (ErrMissingAPIKey, ErrNotReady,
// ErrBusy) leave the session untouched. Once the pipeline runs, both the
// user turn and the assistant turn are recorded, even when the run fails;
// the failure is then reported in the Reply, not as an error.
func (s *Session) Submit(ctx context.Context, inquiry string) (*Reply, error) {
	settings := s.Settings()
	if !settings.HasAPIKey() {
		return nil, ErrMissingAPIKey
	}

	inquiry = strings.TrimSpace(inquiry)
	if inquiry == "" || settings.WebsiteURL == "" {
		return nil, ErrNotReady
	}

	if !s.run.TryLock() {
		return nil, ErrBusy
	}
	defer s.run.Unlock()

	cfg := s.deps.Config
	cfg.Model.APIKey = settings.APIKey

	result := s.deps.Pipeline.Run(ctx, pipeline.Request{
		Config:   cfg,
		Inquiry:  inquiry,
		URL:      settings.WebsiteURL,
		History:  s.history.Turns(),
		Progress: progress.New(s.deps.ProgressLimit),
	})

	s.history.Append(
		llm.ConversationTurn{Role: llm.RoleUser, Text: inquiry},
		llm.ConversationTurn{Role: llm.RoleAssistant, Text: result.Answer},
	)

	reply := &Reply{
		Inquiry:  inquiry,
		Answer:   result.Answer,
		Failed:   result.Failed(),
		Kind:     pipeline.KindOf(result.Err),
		Progress: result.Progress,
		RunID:    result.RunID,
		Usage:    result.Usage,
		Elapsed:  result.Elapsed,
	}

	s.mu.Lock()
	s.last = reply
	s.updated = time.Now()
	s.mu.Unlock()

	s.archive(ctx, settings.WebsiteURL, cfg.Model.Model, reply)
	return reply, nil
}

// archive appends the exchange to the transcript store. Failures are
// logged and never reach the user.
func (s *Session) archive(ctx context.Context, website, model string, reply *Reply) {
	if s.deps.Archive == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	answerType := merkle.TypeMessage
	if reply.Failed {
		answerType = merkle.TypeError
	}

	buckets := []merkle.Bucket{
		{Type: merkle.TypeMessage, Role: string(llm.RoleUser), Text: reply.Inquiry, Website: website},
		{Type: answerType, Role: string(llm.RoleAssistant), Text: reply.Answer, Website: website, Model: model},
	}

	for _, b := range buckets {
		node := merkle.NewNode(b, s.head)
		if _, err := s.deps.Archive.Put(ctx, node); err != nil {
			s.logger.Warn("failed to archive turn", zap.String("role", b.Role), zap.Error(err))
			return
		}
		s.head = node
	}

	s.logger.Debug("exchange archived", zap.String("head_hash", s.head.Hash))
}

// Head returns the hash of the last archived turn, or "".
func (s *Session) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.head == nil {
		return ""
	}
	return s.head.Hash
}

// touch marks the session as used now.
func (s *Session) touch() {
	s.mu.Lock()
	s.updated = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}
