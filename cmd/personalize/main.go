/*
Package main is the entry point for the personalize CLI.

personalize records implicit visitor signals (category views, item views and
searches), turns them into recommendation feeds and runs sticky A/B
experiments with impression and conversion tracking.

Usage:

	personalize [command]

Available Commands:

	serve       Run the MCP server (stdio transport)
	serve-http  Run the HTTP API
	track       Record a visitor signal
	recommend   Print a recommendation feed
	experiment  Assign, convert and report on A/B experiments
	profile     Print a visitor's browsing profile
	config      Create and inspect configuration
	verify      Verify configuration and component health
	version     Show version information

Examples:

	# Create ~/.personalize/config.yaml
	personalize config init

	# Run as MCP server
	personalize serve

	# Record a view and read the feed
	personalize track item tv-1 --device d-1
	personalize recommend for-you --device d-1
*/
package main

import (
	"fmt"
	"os"

	"github.com/khanglvm/personalize/internal/cli"
	"github.com/khanglvm/personalize/internal/version"
)

// Version information (set via ldflags during build)
var (
	buildVersion = "dev"
	commit       = "none"
	date         = "unknown"
)

func main() {
	version.Version, version.Commit, version.Date = buildVersion, commit, date

	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
