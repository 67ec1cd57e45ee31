package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/khanglvm/personalize/internal/engine"
)

// NewVerifyCmd creates the 'verify' command for verifying configuration.
func NewVerifyCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify configuration and component health",
		Long: `Verify that the configuration is valid, the store opens, the catalog
loads and the experiment definitions parse.

Exits non-zero when a required component is unusable.`,
		Example: `  personalize verify
  personalize verify --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}

// runVerify builds an engine and reports the status of each component.
func runVerify(w io.Writer, jsonOutput bool) error {
	return withEngine(func(e *engine.Engine) error {
		status := e.Status()

		if jsonOutput {
			if err := printJSON(w, status); err != nil {
				return err
			}
		} else {
			printStatus(w, e.Config().String(), status)
		}

		if !status.Healthy() {
			return fmt.Errorf("one or more required components are unavailable")
		}
		return nil
	})
}

func printStatus(w io.Writer, summary string, s engine.Status) {
	fmt.Fprintf(w, "✓ Config: %s\n", summary)
	fmt.Fprintf(w, "%s Storage: %s\n", mark(s.StorageEnabled), s.StorageDriver)
	fmt.Fprintf(w, "%s Catalog: %d items from %s (breaker %s)\n", mark(s.CatalogItems > 0), s.CatalogItems, s.CatalogPath, s.CatalogBreaker)
	fmt.Fprintf(w, "  Search index: %d items\n", s.IndexedItems)
	fmt.Fprintf(w, "  Purchases breaker: %s\n", s.PurchasesBreaker)
	if s.DefinitionsPath != "" {
		fmt.Fprintf(w, "✓ Experiments: %d defined, %d active (%s)\n", s.Experiments, s.ActiveExperiments, s.DefinitionsPath)
	} else {
		fmt.Fprintf(w, "  Experiments: none defined\n")
	}
	fmt.Fprintf(w, "%s Tracking: queue %d\n", mark(s.Tracking), s.TrackingQueue)
	if s.Generator {
		fmt.Fprintf(w, "✓ Generator: enabled\n")
	} else {
		fmt.Fprintf(w, "  Generator: disabled\n")
	}
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
