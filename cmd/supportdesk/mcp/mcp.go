package mcpcmder

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/cmd/supportdesk/bootstrap"
	"github.com/papercomputeco/supportdesk/pkg/logger"
	"github.com/papercomputeco/supportdesk/pkg/mcpserver"
	"github.com/papercomputeco/supportdesk/pkg/pipeline"
)

const mcpLongDesc string = `Serve the support tools over MCP on stdin/stdout.

Exposes two tools to an MCP client:
  ask_website            answer a question from a website
  conversation_history   list the retained turns of a session

The API key and default website come from the config file and environment.
Logs go to stderr.

Examples:
  supportdesk mcp
  supportdesk mcp --website https://example.com`

const mcpShortDesc string = "Serve the support tools over MCP stdio"

type mcpCommander struct {
	website string
	sqlite  string

	transport    mcp.Transport
	pipelineOpts []pipeline.Option
}

func NewMCPCmd() *cobra.Command {
	return newMCPCmd(&mcp.StdioTransport{})
}

func newMCPCmd(transport mcp.Transport, opts ...pipeline.Option) *cobra.Command {
	cmder := &mcpCommander{
		transport:    transport,
		pipelineOpts: opts,
	}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: mcpShortDesc,
		Long:  mcpLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.website, "website", "", "Default website for new sessions")
	cmd.Flags().StringVarP(&cmder.sqlite, "sqlite", "s", "", "Path to SQLite transcript archive (default: in-memory)")

	return cmd
}

func (c *mcpCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, _, err := bootstrap.LoadConfig(cmd)
	if err != nil {
		return err
	}
	if c.website != "" {
		cfg.Session.Website = c.website
	}
	if c.sqlite != "" {
		cfg.Archive.SQLitePath = c.sqlite
	}

	// stdout carries the protocol.
	log := logger.NewLogger(cfg.Debug)
	defer log.Sync()

	archive, err := bootstrap.OpenArchive(cfg.Archive.SQLitePath, log)
	if err != nil {
		return err
	}

	rt := bootstrap.NewRuntime(cfg, archive, log, c.pipelineOpts...)
	defer rt.Close()

	server := mcpserver.New(rt.Registry, bootstrap.Version, log)

	log.Info("serving MCP over stdio",
		zap.Bool("server_api_key", cfg.OpenAI.APIKey != ""),
		zap.String("website", cfg.Session.Website),
	)

	if err := server.Run(ctx, c.transport); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
