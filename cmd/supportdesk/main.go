package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/supportdesk/cmd/supportdesk/ask"
	"github.com/papercomputeco/supportdesk/cmd/supportdesk/bootstrap"
	chatcmder "github.com/papercomputeco/supportdesk/cmd/supportdesk/chat"
	configcmder "github.com/papercomputeco/supportdesk/cmd/supportdesk/config"
	mcpcmder "github.com/papercomputeco/supportdesk/cmd/supportdesk/mcp"
	mergecmder "github.com/papercomputeco/supportdesk/cmd/supportdesk/merge"
	pushcmder "github.com/papercomputeco/supportdesk/cmd/supportdesk/push"
	servecmder "github.com/papercomputeco/supportdesk/cmd/supportdesk/serve"
	transcriptscmder "github.com/papercomputeco/supportdesk/cmd/supportdesk/transcripts"
)

const rootLongDesc string = `supportdesk answers customer support questions from a website.

It fetches the website, then a support agent drafts an answer from the
page text and a QA agent reviews it. Conversations keep the last 10 turns
as context.

Configuration is read from ~/.supportdesk/config.toml, then from
SUPPORTDESK_* and OPENAI_API_KEY environment variables, then from flags.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "supportdesk",
		Short:         "Website-grounded support chat",
		Long:          rootLongDesc,
		Version:       bootstrap.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default ~/.supportdesk/config.toml)")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	cmd.AddCommand(
		servecmder.NewServeCmd(),
		askcmder.NewAskCmd(),
		chatcmder.NewChatCmd(),
		mcpcmder.NewMCPCmd(),
		transcriptscmder.NewTranscriptsCmd(),
		pushcmder.NewPushCmd(),
		mergecmder.NewMergeCmd(),
		configcmder.NewConfigCmd(),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
