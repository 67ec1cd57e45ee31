package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/khanglvm/personalize/internal/engine"
	"github.com/khanglvm/personalize/internal/recommend"
	"github.com/khanglvm/personalize/internal/visitor"
)

// defaultLimit is the feed size when --limit is not given. The continue feed
// defaults to recommend.DefaultContinueLimit instead.
const defaultLimit = 10

type visitorFeedFunc func(e *engine.Engine, ctx context.Context, v visitor.Visitor, limit int) recommend.Feed

type itemFeedFunc func(e *engine.Engine, ctx context.Context, itemID string, count int) recommend.Feed

// NewRecommendCmd creates the 'recommend' command group for reading feeds.
func NewRecommendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recommend",
		Aliases: []string{"rec"},
		Short:   "Print a recommendation feed",
		Long: `Print a recommendation feed as JSON.

Visitor feeds (for-you, continue, searches) need --device. Item feeds
(similar, complementary) take the anchor item id as an argument.`,
		Example: `  personalize recommend for-you --device d-1
  personalize recommend similar tv-1 --limit 4`,
	}

	cmd.AddCommand(newVisitorFeedCmd("for-you", "Items scored against the visitor's browsing profile", defaultLimit, (*engine.Engine).ForYou))
	cmd.AddCommand(newVisitorFeedCmd("continue", "Unviewed items from the visitor's most browsed category", recommend.DefaultContinueLimit, (*engine.Engine).ContinueShopping))
	cmd.AddCommand(newVisitorFeedCmd("searches", "Items matching the visitor's recent searches", defaultLimit, (*engine.Engine).FromSearches))
	cmd.AddCommand(newItemFeedCmd("similar <item-id>", "Items in the same category as the anchor", (*engine.Engine).SimilarTo))
	cmd.AddCommand(newItemFeedCmd("complementary <item-id>", "Items from categories that go with the anchor", (*engine.Engine).Complementary))

	return cmd
}

func newVisitorFeedCmd(use, short string, defLimit int, feed visitorFeedFunc) *cobra.Command {
	var vf visitorFlags
	var limit int

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e *engine.Engine) error {
				return printJSON(cmd.OutOrStdout(), feed(e, cmd.Context(), vf.visitor(), limit))
			})
		},
	}
	vf.bind(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", defLimit, "Maximum number of items")

	return cmd
}

func newItemFeedCmd(use, short string, feed itemFeedFunc) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e *engine.Engine) error {
				return printJSON(cmd.OutOrStdout(), feed(e, cmd.Context(), args[0], limit))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultLimit, "Maximum number of items")

	return cmd
}
