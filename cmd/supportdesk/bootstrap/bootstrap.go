// Package bootstrap wires configuration into the runtime objects shared by
// the supportdesk commands.
package bootstrap

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/config"
	"github.com/papercomputeco/supportdesk/pkg/merkle"
	"github.com/papercomputeco/supportdesk/pkg/pipeline"
	"github.com/papercomputeco/supportdesk/pkg/provider"
	"github.com/papercomputeco/supportdesk/pkg/scrape"
	"github.com/papercomputeco/supportdesk/pkg/session"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// DefaultSQLiteName is the archive file created under ~/.supportdesk when no
// path is configured.
const DefaultSQLiteName = "transcripts.db"

// LoadConfig reads the file named by the --config flag (or the default path)
// and applies the --debug flag. It returns the resolved path.
func LoadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := flagString(cmd, "config")
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, "", err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if flagBool(cmd, "debug") {
		cfg.Debug = true
	}
	return cfg, path, nil
}

// ResolveSQLitePath picks the archive database: the flag, then the config,
// then ~/.supportdesk/transcripts.db.
func ResolveSQLitePath(flagValue string, cfg *config.Config) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg != nil && cfg.Archive.SQLitePath != "" {
		return cfg.Archive.SQLitePath, nil
	}

	configPath, err := config.DefaultPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(configPath), DefaultSQLiteName), nil
}

// OpenArchive opens the SQLite archive at path, or an in-memory one when
// path is empty.
func OpenArchive(path string, logger *zap.Logger) (merkle.Storer, error) {
	if path == "" {
		logger.Info("using in-memory transcript archive")
		return merkle.NewMemoryStorer(), nil
	}

	storer, err := merkle.NewSQLiteStorer(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript archive %s: %w", path, err)
	}
	logger.Info("using SQLite transcript archive", zap.String("path", path))
	return storer, nil
}

// PipelineConfig maps the file configuration onto a pipeline configuration.
// The API key is left empty: sessions supply it.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Model: provider.OpenAIConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		},
		Support: pipeline.AgentSettings{
			Temperature: cfg.Agents.Support.Temperature,
			MaxTokens:   cfg.Agents.Support.MaxTokens,
		},
		Reviewer: pipeline.AgentSettings{
			Temperature: cfg.Agents.Reviewer.Temperature,
			MaxTokens:   cfg.Agents.Reviewer.MaxTokens,
		},
		MaxIterations: cfg.Agents.MaxIterations,
	}
}

// DefaultSettings are the settings new sessions start with.
func DefaultSettings(cfg *config.Config) session.Settings {
	return session.Settings{
		APIKey:     cfg.OpenAI.APIKey,
		WebsiteURL: cfg.Session.Website,
	}
}

// Runtime is everything a command needs to answer questions.
type Runtime struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	Registry *session.Registry
	Archive  merkle.Storer
	Logger   *zap.Logger
}

// NewRuntime builds the pipeline and session registry over archive.
func NewRuntime(cfg *config.Config, archive merkle.Storer, logger *zap.Logger, opts ...pipeline.Option) *Runtime {
	fetcher := scrape.NewFetcher(scrape.Config{
		Timeout:      cfg.Scrape.Timeout.Duration,
		UserAgent:    cfg.Scrape.UserAgent,
		MaxBodyBytes: cfg.Scrape.MaxBodyBytes,
	}, logger)

	p := pipeline.New(fetcher, logger, opts...)

	registry := session.NewRegistry(DefaultSettings(cfg), session.Deps{
		Pipeline:      p,
		Config:        PipelineConfig(cfg),
		HistoryLimit:  cfg.Session.HistoryLimit,
		ProgressLimit: cfg.Session.ProgressLimit,
		Archive:       archive,
		Logger:        logger,
	})

	return &Runtime{
		Config:   cfg,
		Pipeline: p,
		Registry: registry,
		Archive:  archive,
		Logger:   logger,
	}
}

// Close releases the archive.
func (r *Runtime) Close() error {
	return r.Archive.Close()
}

func flagString(cmd *cobra.Command, name string) string {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Value.String()
	}
	return ""
}

func flagBool(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Value.String() == "true"
	}
	return false
}
