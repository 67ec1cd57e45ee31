package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khanglvm/personalize/internal/engine"
)

// NewExperimentCmd creates the 'experiment' command group.
func NewExperimentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiment",
		Aliases: []string{"exp"},
		Short:   "Assign, convert and report on A/B experiments",
		Long: `Work with the experiments defined in the experiments file.

Assignments are sticky per device: the first assign draws a variant from the
traffic split and every later call returns the same one.`,
		Example: `  personalize experiment assign hero-banner --device d-1
  personalize experiment convert hero-banner --device d-1 --value 49.90
  personalize experiment list banner --target home
  personalize experiment report hero-banner`,
	}

	cmd.AddCommand(newExperimentAssignCmd())
	cmd.AddCommand(newExperimentConvertCmd())
	cmd.AddCommand(newExperimentListCmd())
	cmd.AddCommand(newExperimentReportCmd())

	return cmd
}

func newExperimentAssignCmd() *cobra.Command {
	var vf visitorFlags

	cmd := &cobra.Command{
		Use:   "assign <experiment>",
		Short: "Get or draw the visitor's variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e *engine.Engine) error {
				a, ok := e.GetAssignment(cmd.Context(), vf.visitor(), args[0])
				if !ok {
					return fmt.Errorf("no active experiment named %q", args[0])
				}
				return printJSON(cmd.OutOrStdout(), a)
			})
		},
	}
	vf.bind(cmd)

	return cmd
}

func newExperimentConvertCmd() *cobra.Command {
	var vf visitorFlags
	var value float64

	cmd := &cobra.Command{
		Use:   "convert <experiment>",
		Short: "Record a conversion for the visitor's variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e *engine.Engine) error {
				a, ok := e.RecordConversion(cmd.Context(), vf.visitor(), args[0], value)
				if !ok {
					return fmt.Errorf("device %s has no assignment for %q", vf.device, args[0])
				}
				return printJSON(cmd.OutOrStdout(), a)
			})
		},
	}
	vf.bind(cmd)
	cmd.Flags().Float64Var(&value, "value", 0, "Conversion value, such as order total")

	return cmd
}

func newExperimentListCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:     "list <type>",
		Aliases: []string{"ls"},
		Short:   "List active experiments of a type",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e *engine.Engine) error {
				return printJSON(cmd.OutOrStdout(), e.ListExperiments(cmd.Context(), args[0], target))
			})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "Only experiments on this placement")

	return cmd
}

func newExperimentReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <experiment>",
		Short: "Impressions, conversions and conversion rate per variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e *engine.Engine) error {
				report, err := e.ExperimentReport(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}
