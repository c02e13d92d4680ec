package transcriptscmder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/supportdesk/cmd/supportdesk/bootstrap"
	"github.com/papercomputeco/supportdesk/pkg/merkle"
)

const transcriptsLongDesc string = `Inspect the SQLite transcript archive.

Every exchange is archived as two content-addressed nodes (the question and
the answer) chained to the previous exchange of the same conversation. A
conversation is identified by the hash of its last node.

Examples:
  supportdesk transcripts list
  supportdesk transcripts show 3f2a...
  supportdesk transcripts stats --sqlite /tmp/transcripts.db`

const transcriptsShortDesc string = "Inspect archived conversations"

// previewWidth bounds the question column of the list.
const previewWidth = 60

type transcriptsCommander struct {
	sqlitePath string
	jsonOut    bool
}

func NewTranscriptsCmd() *cobra.Command {
	cmder := &transcriptsCommander{}

	cmd := &cobra.Command{
		Use:     "transcripts",
		Aliases: []string{"tx"},
		Short:   transcriptsShortDesc,
		Long:    transcriptsLongDesc,
	}

	cmd.PersistentFlags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to SQLite archive (default ~/.supportdesk/transcripts.db)")
	cmd.PersistentFlags().BoolVar(&cmder.jsonOut, "json", false, "Print JSON")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List archived conversations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cmder.withArchive(cmd, cmder.list)
			},
		},
		&cobra.Command{
			Use:   "show <hash>",
			Short: "Print the conversation ending at a node",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cmder.withArchive(cmd, func(ctx context.Context, out io.Writer, s merkle.Storer) error {
					return cmder.show(ctx, out, s, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Summarize the archive",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cmder.withArchive(cmd, cmder.stats)
			},
		},
	)

	return cmd
}

// conversation is one row of the list.
type conversation struct {
	HeadHash      string `json:"head_hash"`
	Turns         int    `json:"turns"`
	Website       string `json:"website"`
	FirstQuestion string `json:"first_question"`
	Failed        bool   `json:"failed"`
}

// turn is one node of a shown conversation.
type turn struct {
	Hash string `json:"hash"`
	Role string `json:"role"`
	Type string `json:"type"`
	Text string `json:"text"`
}

func (c *transcriptsCommander) withArchive(cmd *cobra.Command, fn func(context.Context, io.Writer, merkle.Storer) error) error {
	cfg, _, err := bootstrap.LoadConfig(cmd)
	if err != nil {
		return err
	}

	path, err := bootstrap.ResolveSQLitePath(c.sqlitePath, cfg)
	if err != nil {
		return fmt.Errorf("could not resolve archive: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no transcript archive at %s", path)
	}

	storer, err := merkle.NewSQLiteStorer(path)
	if err != nil {
		return fmt.Errorf("could not open archive %s: %w", path, err)
	}
	defer storer.Close()

	return fn(cmd.Context(), cmd.OutOrStdout(), storer)
}

func (c *transcriptsCommander) list(ctx context.Context, out io.Writer, s merkle.Storer) error {
	leaves, err := s.Leaves(ctx)
	if err != nil {
		return fmt.Errorf("could not list conversations: %w", err)
	}

	convs := make([]conversation, 0, len(leaves))
	for _, leaf := range leaves {
		path, err := merkle.Conversation(ctx, s, leaf.Hash)
		if err != nil {
			return fmt.Errorf("could not load conversation %s: %w", leaf.Hash, err)
		}
		convs = append(convs, conversation{
			HeadHash:      leaf.Hash,
			Turns:         len(path),
			Website:       leaf.Bucket.Website,
			FirstQuestion: path[0].Bucket.Text,
			Failed:        leaf.Bucket.Type == merkle.TypeError,
		})
	}

	if c.jsonOut {
		return writeJSON(out, convs)
	}

	if len(convs) == 0 {
		fmt.Fprintln(out, "No archived conversations.")
		return nil
	}

	rows := make([][]string, 0, len(convs))
	for _, conv := range convs {
		status := "ok"
		if conv.Failed {
			status = "error"
		}
		rows = append(rows, []string{
			shortHash(conv.HeadHash),
			fmt.Sprintf("%d", conv.Turns),
			status,
			conv.Website,
			ansi.Truncate(conv.FirstQuestion, previewWidth, "…"),
		})
	}

	renderer := lipgloss.NewRenderer(out)
	header := renderer.NewStyle().Bold(true).Padding(0, 1)
	cell := renderer.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("HEAD", "TURNS", "LAST", "WEBSITE", "FIRST QUESTION").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})

	fmt.Fprintln(out, t.String())
	return nil
}

func (c *transcriptsCommander) show(ctx context.Context, out io.Writer, s merkle.Storer, hash string) error {
	path, err := merkle.Conversation(ctx, s, hash)
	if merkle.IsNotFound(err) {
		return fmt.Errorf("no archived turn with hash %s", hash)
	}
	if err != nil {
		return fmt.Errorf("could not load conversation: %w", err)
	}

	turns := make([]turn, 0, len(path))
	for _, n := range path {
		turns = append(turns, turn{Hash: n.Hash, Role: n.Bucket.Role, Type: n.Bucket.Type, Text: n.Bucket.Text})
	}

	if c.jsonOut {
		return writeJSON(out, turns)
	}

	renderer := lipgloss.NewRenderer(out)
	roleStyle := map[string]lipgloss.Style{
		"user":      renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		"assistant": renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
	}
	errStyle := renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))

	if website := path[len(path)-1].Bucket.Website; website != "" {
		fmt.Fprintf(out, "Website: %s\n\n", website)
	}
	for _, t := range turns {
		style, ok := roleStyle[t.Role]
		if !ok || t.Type == merkle.TypeError {
			style = errStyle
		}
		fmt.Fprintf(out, "%s %s\n%s\n\n", style.Render(t.Role+":"), shortHash(t.Hash), t.Text)
	}
	return nil
}

func (c *transcriptsCommander) stats(ctx context.Context, out io.Writer, s merkle.Storer) error {
	stats, err := merkle.ComputeStats(ctx, s)
	if err != nil {
		return fmt.Errorf("could not compute stats: %w", err)
	}

	if c.jsonOut {
		return writeJSON(out, stats)
	}

	fmt.Fprintf(out, "Turns:          %d\n", stats.TotalNodes)
	fmt.Fprintf(out, "Conversations:  %d\n", stats.LeafCount)
	fmt.Fprintf(out, "Roots:          %d\n", stats.RootCount)
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
