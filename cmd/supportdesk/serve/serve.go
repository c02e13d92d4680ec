package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/chat"
	"github.com/papercomputeco/supportdesk/cmd/supportdesk/bootstrap"
	"github.com/papercomputeco/supportdesk/pkg/config"
	"github.com/papercomputeco/supportdesk/pkg/logger"
	"github.com/papercomputeco/supportdesk/pkg/mcpserver"
	"github.com/papercomputeco/supportdesk/pkg/session"
)

const serveLongDesc string = `Serve the web chat.

Open the listen address in a browser, enter an OpenAI API key and a website
URL in the sidebar, and ask questions. The same server exposes a JSON API
under /api, archive inspection under /dag and an MCP endpoint at /mcp.

Transcripts are archived in memory unless --sqlite (or archive.sqlite_path)
names a database. The config file is watched and reloaded on change.

Examples:
  supportdesk serve
  supportdesk serve --listen :9000 --website https://example.com
  supportdesk serve --sqlite ~/.supportdesk/transcripts.db`

const serveShortDesc string = "Serve the web chat"

type serveCommander struct {
	listen     string
	sqlitePath string
	website    string
	noWatch    bool
	idle       time.Duration
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (default from config, :8501)")
	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to SQLite transcript archive (default: in-memory)")
	cmd.Flags().StringVar(&cmder.website, "website", "", "Website URL prefilled for new sessions")
	cmd.Flags().BoolVar(&cmder.noWatch, "no-watch", false, "Do not reload the config file on change")
	cmd.Flags().DurationVar(&cmder.idle, "session-idle", 2*time.Hour, "Drop sessions idle for longer (0 keeps them)")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, configPath, err := bootstrap.LoadConfig(cmd)
	if err != nil {
		return err
	}
	c.applyFlags(cfg)

	log := logger.NewLogger(cfg.Debug)
	defer log.Sync()

	archive, err := bootstrap.OpenArchive(cfg.Archive.SQLitePath, log)
	if err != nil {
		return err
	}

	rt := bootstrap.NewRuntime(cfg, archive, log)
	mcpServer := mcpserver.New(rt.Registry, bootstrap.Version, log)

	server, err := chat.New(chat.Config{
		ListenAddr:         cfg.Server.ListenAddr,
		Version:            bootstrap.Version,
		SessionIdleTimeout: c.idle,
	}, rt.Registry, archive, mcpServer, log)
	if err != nil {
		archive.Close()
		return fmt.Errorf("failed to create chat server: %w", err)
	}

	if !c.noWatch {
		go c.watch(ctx, configPath, rt.Registry.SetDefaults, log)
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := server.Close(); err != nil {
			log.Warn("shutdown failed", zap.Error(err))
		}
	}()

	log.Info("supportdesk starting",
		zap.String("listen", cfg.Server.ListenAddr),
		zap.String("model", cfg.OpenAI.Model),
		zap.Bool("server_api_key", cfg.OpenAI.APIKey != ""),
		zap.String("config", configPath),
	)

	return server.Run()
}

func (c *serveCommander) applyFlags(cfg *config.Config) {
	if c.listen != "" {
		cfg.Server.ListenAddr = c.listen
	}
	if c.sqlitePath != "" {
		cfg.Archive.SQLitePath = c.sqlitePath
	}
	if c.website != "" {
		cfg.Session.Website = c.website
	}
}

// watch reloads the config file. Only the defaults of new sessions follow a
// reload; the listener, archive and agent settings need a restart.
func (c *serveCommander) watch(ctx context.Context, path string, setDefaults func(session.Settings), log *zap.Logger) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Debug("config file absent, not watching", zap.String("path", path))
		return
	}

	err := config.Watch(ctx, path, log, func(cfg *config.Config) {
		c.applyFlags(cfg)
		setDefaults(bootstrap.DefaultSettings(cfg))
	})
	if err != nil {
		log.Warn("config watch stopped", zap.Error(err))
	}
}
