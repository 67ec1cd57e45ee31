package cli

import (
	"github.com/spf13/cobra"

	"github.com/khanglvm/personalize/internal/engine"
)

// NewProfileCmd creates the 'profile' command for inspecting a visitor.
func NewProfileCmd() *cobra.Command {
	var vf visitorFlags

	cmd := &cobra.Command{
		Use:     "profile",
		Short:   "Print a visitor's browsing profile",
		Long:    `Print the category counts, recently viewed items and recent searches recorded for a device.`,
		Example: `  personalize profile --device d-1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e *engine.Engine) error {
				return printJSON(cmd.OutOrStdout(), e.Profile(cmd.Context(), vf.visitor()))
			})
		},
	}
	vf.bind(cmd)

	return cmd
}
