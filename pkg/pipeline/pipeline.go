// Package pipeline produces an answer to a support inquiry by fetching the
// target website and running a drafting agent followed by a reviewing agent.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/crew"
	"github.com/papercomputeco/supportdesk/pkg/history"
	"github.com/papercomputeco/supportdesk/pkg/llm"
	"github.com/papercomputeco/supportdesk/pkg/progress"
	"github.com/papercomputeco/supportdesk/pkg/provider"
	"github.com/papercomputeco/supportdesk/pkg/scrape"
)

var (
	// ErrEmptyInquiry is returned for blank questions.
	ErrEmptyInquiry = errors.New("inquiry is empty")

	// ErrEmptyAnswer is returned when the crew produced no text at all.
	ErrEmptyAnswer = errors.New("agents returned an empty answer")
)

// AgentSettings are the fixed behavioral parameters of one agent.
type AgentSettings struct {
	Temperature float64
	MaxTokens   int
}

// Config is the explicit configuration of one run.
type Config struct {
	// Model configures the hosted model client.
	Model provider.OpenAIConfig

	Support  AgentSettings
	Reviewer AgentSettings

	// MaxIterations bounds each agent's tool-calling loop.
	MaxIterations int
}

// DefaultConfig returns the standard agent settings without credentials.
func DefaultConfig() Config {
	return Config{
		Model:         provider.OpenAIConfig{Model: provider.DefaultModel},
		Support:       AgentSettings{Temperature: 0.5, MaxTokens: 500},
		Reviewer:      AgentSettings{Temperature: 0.5, MaxTokens: 300},
		MaxIterations: crew.DefaultMaxIterations,
	}
}

// ModelFactory creates the model client for one run.
type ModelFactory func(config provider.OpenAIConfig) (llm.Model, error)

// Request is one submission.
type Request struct {
	Config  Config
	Inquiry string
	URL     string

	// History is the retained conversation before this submission.
	History []llm.ConversationTurn

	// Progress receives stage labels. A fresh log is used when nil.
	Progress *progress.Log
}

// Result is the outcome of one run. Answer is always set: on failure it
// holds the error text.
type Result struct {
	RunID       string           `json:"run_id"`
	Answer      string           `json:"answer"`
	Stage       Stage            `json:"stage"`
	Transitions []Stage          `json:"transitions"`
	Progress    []string         `json:"progress"`
	Document    *scrape.Document `json:"-"`
	Output      *crew.Output     `json:"output,omitempty"`
	Usage       llm.Usage        `json:"usage"`
	Err         error            `json:"-"`
	StartedAt   time.Time        `json:"started_at"`
	Elapsed     time.Duration    `json:"elapsed"`
}

// Failed reports whether the run ended in StageFailed.
func (r *Result) Failed() bool {
	return r.Stage == StageFailed
}

// Pipeline runs submissions. It holds no per-run state and may be shared.
type Pipeline struct {
	fetcher  *scrape.Fetcher
	newModel ModelFactory
	logger   *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithModelFactory replaces the OpenAI client factory.
func WithModelFactory(f ModelFactory) Option {
	return func(p *Pipeline) {
		p.newModel = f
	}
}

// New creates a Pipeline.
func New(fetcher *scrape.Fetcher, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher: fetcher,
		logger:  logger,
	}
	p.newModel = func(config provider.OpenAIConfig) (llm.Model, error) {
		return provider.NewOpenAI(config, p.logger)
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one submission. Every failure is captured in the Result;
// nothing is retried.
func (p *Pipeline) Run(ctx context.Context, req Request) *Result {
	m := p.newMachine(req)
	defer m.finish()

	cfg := req.Config
	if strings.TrimSpace(cfg.Model.APIKey) == "" {
		return m.fail(KindConfiguration, provider.ErrMissingAPIKey)
	}
	inquiry := strings.TrimSpace(req.Inquiry)
	if inquiry == "" {
		return m.fail(KindPipeline, ErrEmptyInquiry)
	}

	m.advance(StageFetching, "Fetching website content...")
	doc, err := p.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return m.fail(KindFetch, err)
	}
	m.result.Document = doc
	m.progress.Add("Website content retrieved successfully!")

	m.advance(StageContextBuilding, fmt.Sprintf("Preparing context from last %d messages...", len(req.History)))
	contextBlock := history.ContextBlock(req.History)

	m.advance(StageAgentsConfigured, "Initializing support and QA agents...")
	model, err := p.newModel(cfg.Model)
	if err != nil {
		if errors.Is(err, provider.ErrMissingAPIKey) {
			return m.fail(KindConfiguration, err)
		}
		return m.fail(KindPipeline, fmt.Errorf("create model client: %w", err))
	}
	support := newSupportAgent(model, cfg)
	reviewer := newReviewAgent(model, cfg)
	m.progress.Add("Agents initialized.")

	m.advance(StageTasksBuilt, "Creating tasks for support and QA agents...")
	draft := newDraftTask(support, scrape.NewTool(p.fetcher, doc.URL))
	review := newReviewTask(reviewer, draft)
	m.progress.Add("Tasks created successfully.")

	m.advance(StageExecuting, "Executing the agent workflow...")
	c := &crew.Crew{
		Agents: []*crew.Agent{support, reviewer},
		Tasks:  []*crew.Task{draft, review},
		Memory: true,
		OnStep: m.onStep,
		Logger: m.logger,
	}
	out, err := c.Kickoff(ctx, map[string]string{
		inputInquiry:        inquiry,
		inputHistory:        contextBlock,
		inputWebsite:        doc.URL,
		inputWebsiteContent: doc.Text,
	})
	if err != nil {
		return m.fail(KindPipeline, err)
	}
	m.result.Output = out
	m.result.Usage = out.Usage

	answer := Answer(out)
	if answer == "" {
		return m.fail(KindPipeline, ErrEmptyAnswer)
	}
	m.result.Answer = answer

	return m.succeed("All tasks completed successfully.")
}

// Answer extracts the final text of a crew run: the structured output when
// present, else the string form of the whole result.
func Answer(out *crew.Output) string {
	if out == nil {
		return ""
	}
	if final := strings.TrimSpace(out.Output); final != "" {
		return final
	}
	return strings.TrimSpace(out.String())
}

// machine tracks the stage of one run.
type machine struct {
	result   *Result
	progress *progress.Log
	logger   *zap.Logger
}

func (p *Pipeline) newMachine(req Request) *machine {
	log := req.Progress
	if log == nil {
		log = progress.New(progress.DefaultLimit)
	}

	runID := uuid.NewString()
	m := &machine{
		result: &Result{
			RunID:       runID,
			Stage:       StageIdle,
			Transitions: []Stage{StageIdle},
			StartedAt:   time.Now(),
		},
		progress: log,
		logger:   p.logger.With(zap.String("run_id", runID)),
	}

	m.logger.Info("submission received",
		zap.String("url", req.URL),
		zap.String("inquiry_preview", truncate(req.Inquiry, 80)),
		zap.Int("history_turns", len(req.History)),
	)
	return m
}

func (m *machine) transition(to Stage) {
	from := m.result.Stage
	if !canTransition(from, to) {
		m.logger.DPanic("invalid stage transition", zap.String("from", string(from)), zap.String("to", string(to)))
	}
	m.result.Stage = to
	m.result.Transitions = append(m.result.Transitions, to)
	m.logger.Debug("stage transition", zap.String("from", string(from)), zap.String("to", string(to)))
}

func (m *machine) advance(to Stage, label string) {
	m.transition(to)
	m.progress.Add(label)
}

func (m *machine) fail(kind ErrorKind, err error) *Result {
	perr := &Error{Kind: kind, Stage: m.result.Stage, Err: err}
	m.result.Err = perr
	m.result.Answer = ErrorText(perr)
	m.progress.Add(m.result.Answer)
	m.transition(StageFailed)

	m.logger.Error("submission failed",
		zap.String("kind", string(kind)),
		zap.String("stage", string(perr.Stage)),
		zap.Error(err),
	)
	return m.result
}

func (m *machine) succeed(label string) *Result {
	m.transition(StageSucceeded)
	m.progress.Add(label)

	m.logger.Info("submission answered",
		zap.Int("answer_length", len(m.result.Answer)),
		zap.Int64("total_tokens", m.result.Usage.TotalTokens),
	)
	return m.result
}

func (m *machine) finish() {
	m.result.Progress = m.progress.Labels()
	m.result.Elapsed = time.Since(m.result.StartedAt)
}

// onStep turns crew events into progress labels.
func (m *machine) onStep(s crew.Step) {
	switch s.Kind {
	case crew.StepTaskStarted:
		if s.Task == draftTaskName {
			m.progress.Add("Support agent is analyzing website...")
		} else {
			m.progress.Add("QA agent is reviewing the response...")
		}
	case crew.StepToolCalled:
		m.progress.Add(fmt.Sprintf("%s is using %s...", s.Agent, s.Tool))
	case crew.StepDelegated:
		m.progress.Add(fmt.Sprintf("Work delegated to %s.", s.Agent))
	case crew.StepTaskFinished:
		if s.Task == draftTaskName {
			m.progress.Add("Support agent generated a draft response.")
		} else {
			m.progress.Add("QA agent finished the review.")
		}
	}
}

// truncate shortens s for log previews, backing off to a rune boundary.
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
