package mergecmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/supportdesk/cmd/supportdesk/bootstrap"
	"github.com/papercomputeco/supportdesk/pkg/merkle"
)

const mergeLongDesc string = `Merge one or more transcript archives into a target.

Content-addressing makes this a simple union: turns that already exist in
the target are skipped (deduped by hash), so conversations that share a
prefix share its nodes.

Examples:
  supportdesk merge monday.db tuesday.db
  supportdesk merge --sqlite /tmp/merged.db ~/alice/transcripts.db ~/bob/transcripts.db`

const mergeShortDesc string = "Merge transcript archives"

type mergeCommander struct {
	sqlitePath string
}

func NewMergeCmd() *cobra.Command {
	cmder := &mergeCommander{}

	cmd := &cobra.Command{
		Use:   "merge [sources...]",
		Short: mergeShortDesc,
		Long:  mergeLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to target SQLite archive")

	return cmd
}

func (c *mergeCommander) run(ctx context.Context, cmd *cobra.Command, sources []string) error {
	cfg, _, err := bootstrap.LoadConfig(cmd)
	if err != nil {
		return err
	}

	targetPath, err := bootstrap.ResolveSQLitePath(c.sqlitePath, cfg)
	if err != nil {
		return fmt.Errorf("could not resolve target archive: %w", err)
	}

	target, err := merkle.NewSQLiteStorer(targetPath)
	if err != nil {
		return fmt.Errorf("could not open target archive %s: %w", targetPath, err)
	}
	defer target.Close()

	var totalNew, totalDuped int

	for _, srcPath := range sources {
		added, existing, err := c.mergeOne(ctx, target, srcPath)
		if err != nil {
			return err
		}

		totalNew += added
		totalDuped += existing

		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d new, %d already existed\n", srcPath, added, existing)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d new nodes from %d sources (%d already existed) into %s\n",
		totalNew, len(sources), totalDuped, targetPath)

	return nil
}

func (c *mergeCommander) mergeOne(ctx context.Context, target merkle.Storer, srcPath string) (int, int, error) {
	source, err := merkle.NewSQLiteStorer(srcPath)
	if err != nil {
		return 0, 0, fmt.Errorf("could not open source archive %s: %w", srcPath, err)
	}
	defer source.Close()

	added, existing, err := merkle.Copy(ctx, target, source)
	if err != nil {
		return added, existing, fmt.Errorf("could not merge %s: %w", srcPath, err)
	}
	return added, existing, nil
}
