package chatcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/papercomputeco/supportdesk/cmd/supportdesk/bootstrap"
	"github.com/papercomputeco/supportdesk/pkg/logger"
	"github.com/papercomputeco/supportdesk/pkg/termrender"
)

const chatLongDesc string = `Chat with the support agents in the terminal.

Type a question and press enter. The last 10 turns are sent along as
context. Commands:
  /reset   start a new conversation
  /quit    leave (also ctrl+c or esc)

When no API key is configured you are prompted for one; it is not saved.
Logs are written to ~/.supportdesk/chat.log.

Examples:
  supportdesk chat --url https://example.com`

const chatShortDesc string = "Chat with the support agents in the terminal"

// missingKeyWarning is shown when no API key can be found.
const missingKeyWarning = "Please enter your OpenAI API key to continue."

type chatCommander struct {
	url     string
	apiKey  string
	logFile string
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.url, "url", "u", "", "Website to answer from (default session.website)")
	cmd.Flags().StringVar(&cmder.apiKey, "api-key", "", "OpenAI API key (default OPENAI_API_KEY, else prompted)")
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Log file (default ~/.supportdesk/chat.log)")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, configPath, err := bootstrap.LoadConfig(cmd)
	if err != nil {
		return err
	}

	settings := bootstrap.DefaultSettings(cfg)
	if c.apiKey != "" {
		settings.APIKey = c.apiKey
	}
	if c.url != "" {
		settings.WebsiteURL = c.url
	}
	if settings.WebsiteURL == "" {
		return errors.New("no website: pass --url or set session.website in the config file")
	}

	if !settings.HasAPIKey() {
		key, err := promptAPIKey(os.Stdin, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if strings.TrimSpace(key) == "" {
			return errors.New(missingKeyWarning)
		}
		settings.APIKey = key
	}

	logPath := c.logFile
	if logPath == "" {
		logPath = filepath.Join(filepath.Dir(configPath), "chat.log")
		if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
			return fmt.Errorf("could not create log directory: %w", err)
		}
	}
	log, closeLog, err := logger.NewFileLogger(logPath, cfg.Debug)
	if err != nil {
		return fmt.Errorf("could not open log file %s: %w", logPath, err)
	}
	defer closeLog()
	defer log.Sync()

	archive, err := bootstrap.OpenArchive(cfg.Archive.SQLitePath, log)
	if err != nil {
		return err
	}

	rt := bootstrap.NewRuntime(cfg, archive, log)
	defer rt.Close()

	sess := rt.Registry.GetOrCreate("")
	if err := sess.UpdateSettings(settings); err != nil {
		return fmt.Errorf("invalid website URL: %w", err)
	}

	log.Info("terminal chat started",
		zap.String("session_id", sess.ID()),
		zap.String("website", sess.Settings().WebsiteURL),
	)

	// Query the background before the program owns the terminal.
	style := termrender.DetectStyle()

	p := tea.NewProgram(
		newModel(ctx, sess, style),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}

// promptAPIKey reads a key from in without echo. It returns "" when in is
// not a terminal.
func promptAPIKey(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}

	fmt.Fprintln(out, missingKeyWarning)
	fmt.Fprint(out, "OpenAI API key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("could not read API key: %w", err)
	}
	return strings.TrimSpace(string(key)), nil
}
