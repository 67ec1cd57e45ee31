package cli

import (
	"fmt"
	"io"

	"github.com/khanglvm/personalize/internal/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates the 'version' command
func NewVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the current version, commit hash, and build date.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}

func runVersion(w io.Writer, jsonOutput bool) error {
	info := version.Current()
	if jsonOutput {
		return printJSON(w, info)
	}

	fmt.Fprintf(w, "Version:  %s\n", info.Version)
	fmt.Fprintf(w, "Commit:   %s\n", info.Commit)
	fmt.Fprintf(w, "Built:    %s\n", info.Date)
	if info.Dev() {
		fmt.Fprintln(w, "(development build)")
	}
	return nil
}
