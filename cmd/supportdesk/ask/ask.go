package askcmder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/cmd/supportdesk/bootstrap"
	"github.com/papercomputeco/supportdesk/pkg/config"
	"github.com/papercomputeco/supportdesk/pkg/logger"
	"github.com/papercomputeco/supportdesk/pkg/pipeline"
	"github.com/papercomputeco/supportdesk/pkg/session"
	"github.com/papercomputeco/supportdesk/pkg/termrender"
)

const askLongDesc string = `Ask a single question about a website.

The website is fetched, the support agent drafts an answer from its text
and the QA agent reviews it. The answer is rendered as markdown when stdout
is a terminal.

Examples:
  supportdesk ask --url https://example.com "What are your business hours?"
  supportdesk ask --json --url example.com "Do you ship abroad?"`

const askShortDesc string = "Ask one question about a website"

type askCommander struct {
	url          string
	apiKey       string
	jsonOut      bool
	showProgress bool

	pipelineOpts []pipeline.Option
}

func NewAskCmd() *cobra.Command {
	return newAskCmd()
}

func newAskCmd(opts ...pipeline.Option) *cobra.Command {
	cmder := &askCommander{pipelineOpts: opts}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&cmder.url, "url", "u", "", "Website to answer from (default session.website)")
	cmd.Flags().StringVar(&cmder.apiKey, "api-key", "", "OpenAI API key (default OPENAI_API_KEY)")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print the reply as JSON")
	cmd.Flags().BoolVarP(&cmder.showProgress, "progress", "p", false, "Print the agent workflow after the answer")

	return cmd
}

func (c *askCommander) run(ctx context.Context, cmd *cobra.Command, question string) error {
	cfg, _, err := bootstrap.LoadConfig(cmd)
	if err != nil {
		return err
	}

	log := zap.NewNop()
	if cfg.Debug {
		log = logger.NewLogger(true)
		defer log.Sync()
	}

	archive, err := bootstrap.OpenArchive(cfg.Archive.SQLitePath, log)
	if err != nil {
		return err
	}

	rt := bootstrap.NewRuntime(cfg, archive, log, c.pipelineOpts...)
	defer rt.Close()

	sess := rt.Registry.GetOrCreate("")
	if err := sess.UpdateSettings(c.settings(cfg)); err != nil {
		return fmt.Errorf("invalid website URL: %w", err)
	}

	reply, err := sess.Submit(ctx, question)
	switch {
	case errors.Is(err, session.ErrMissingAPIKey):
		return errors.New("no OpenAI API key: set OPENAI_API_KEY, pass --api-key or add openai.api_key to the config file")
	case errors.Is(err, session.ErrNotReady):
		return errors.New("no website: pass --url or set session.website in the config file")
	case err != nil:
		return err
	}

	if c.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}

	renderer, err := termrender.New(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("could not create renderer: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderer.Render(reply.Answer))

	if c.showProgress {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), "Agent workflow:")
		for _, label := range reply.Progress {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", label)
		}
	}

	if reply.Failed {
		return fmt.Errorf("answer failed (%s)", reply.Kind)
	}
	return nil
}

func (c *askCommander) settings(cfg *config.Config) session.Settings {
	settings := bootstrap.DefaultSettings(cfg)
	if c.apiKey != "" {
		settings.APIKey = c.apiKey
	}
	if c.url != "" {
		settings.WebsiteURL = c.url
	}
	return settings
}
