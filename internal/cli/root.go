/*
Package cli implements the personalize command line.

Every command loads configuration the same way: --config if given, otherwise
PERSONALIZE_CONFIG, otherwise ~/.personalize/config.yaml. Commands that touch
visitor state take --device and, optionally, --identity.
*/
package cli

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/khanglvm/personalize/internal/config"
	"github.com/khanglvm/personalize/internal/engine"
	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/version"
	"github.com/khanglvm/personalize/internal/visitor"
)

// configPath is bound to the persistent --config flag.
var configPath string

// NewRootCmd creates the personalize root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "personalize",
		Short: "Storefront personalization and experimentation engine",
		Long: `personalize records what visitors browse, builds recommendation feeds
from those signals and assigns visitors to A/B experiments.

It runs as an MCP server over stdio, as an HTTP API, or one command at a time.`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.personalize/config.yaml)")

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewServeHTTPCmd())
	root.AddCommand(NewTrackCmd())
	root.AddCommand(NewRecommendCmd())
	root.AddCommand(NewExperimentCmd())
	root.AddCommand(NewProfileCmd())
	root.AddCommand(NewConfigCmd())
	root.AddCommand(NewVerifyCmd())
	root.AddCommand(NewVersionCmd())

	return root
}

// loadConfig loads configuration and applies its logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Logging)
	return cfg, nil
}

// openEngine loads configuration and builds an engine from it.
func openEngine(opts ...engine.Option) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	e, err := engine.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	return e, nil
}

// withEngine runs fn against a short-lived engine that does not watch for
// definition changes, closing it afterwards.
func withEngine(fn func(e *engine.Engine) error) (err error) {
	e, err := openEngine(engine.WithoutWatch())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(e)
}

// visitorFlags binds --device and --identity on cmd.
type visitorFlags struct {
	device   string
	identity string
}

func (f *visitorFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.device, "device", "d", "", "Device id of the visitor (required)")
	cmd.Flags().StringVarP(&f.identity, "identity", "i", "", "Authenticated identity of the visitor")
	_ = cmd.MarkFlagRequired("device")
}

func (f *visitorFlags) visitor() visitor.Visitor {
	return visitor.Visitor{DeviceID: f.device, IdentityID: f.identity}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
