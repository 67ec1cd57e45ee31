package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khanglvm/personalize/internal/engine"
	"github.com/khanglvm/personalize/internal/visitor"
)

// recordFunc records one signal for v.
type recordFunc func(e *engine.Engine, ctx context.Context, v visitor.Visitor, arg string)

// NewTrackCmd creates the 'track' command group for recording visitor signals.
func NewTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Record a visitor signal",
		Long: `Record a behavioral signal for a visitor.

Signals are best-effort: storage failures are logged, never returned.`,
	}

	cmd.AddCommand(newTrackSignalCmd("category <category>", "Record a category page view", (*engine.Engine).RecordCategoryView))
	cmd.AddCommand(newTrackSignalCmd("item <item-id>", "Record an item detail view", (*engine.Engine).RecordItemViewed))
	cmd.AddCommand(newTrackSignalCmd("search <term>", "Record a search term (shorter than 2 characters is ignored)", (*engine.Engine).RecordSearch))

	return cmd
}

func newTrackSignalCmd(use, short string, record recordFunc) *cobra.Command {
	var vf visitorFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e *engine.Engine) error {
				record(e, cmd.Context(), vf.visitor(), args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Recorded %s %q for device %s\n", cmd.Name(), args[0], vf.device)
				return nil
			})
		},
	}
	vf.bind(cmd)

	return cmd
}
