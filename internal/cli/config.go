package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/khanglvm/personalize/internal/config"
)

// NewConfigCmd creates the 'config' command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and inspect configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with every default filled in",
		Long: `Write a config file with every default filled in.

An existing file is left alone unless --force is given, in which case the
previous contents are kept in a .bak file next to it.`,
		Example: `  personalize config init
  personalize --config ./personalize.yaml config init --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolvedConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file and
PERSONALIZE_* environment variables are applied. The API key is redacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Generator.APIKey != "" {
				cfg.Generator.APIKey = "********"
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), resolvedConfigPath())
			return nil
		},
	}
}

// resolvedConfigPath returns --config, or the default path when it is unset.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}
