package configcmder

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/supportdesk/cmd/supportdesk/bootstrap"
	"github.com/papercomputeco/supportdesk/pkg/config"
)

const configLongDesc string = `Manage the supportdesk configuration file.

The file lives at ~/.supportdesk/config.toml unless --config names another
path. Environment variables (OPENAI_API_KEY, SUPPORTDESK_*) override it.

Examples:
  supportdesk config init
  supportdesk config show
  supportdesk config path`

const configShortDesc string = "Manage the configuration file"

type configCommander struct {
	force bool
}

func NewConfigCmd() *cobra.Command {
	cmder := &configCommander{}

	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.runInit(cmd)
		},
	}
	initCmd.Flags().BoolVarP(&cmder.force, "force", "f", false, "Overwrite an existing file")

	cmd.AddCommand(
		initCmd,
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration (API key redacted)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cmder.runShow(cmd)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := configPath(cmd)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
	)

	return cmd
}

func (c *configCommander) runInit(cmd *cobra.Command) error {
	path, err := configPath(cmd)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !c.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
	return nil
}

func (c *configCommander) runShow(cmd *cobra.Command) error {
	cfg, path, err := bootstrap.LoadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg.Redacted())
}

func configPath(cmd *cobra.Command) (string, error) {
	if f := cmd.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
		return f.Value.String(), nil
	}
	return config.DefaultPath()
}
