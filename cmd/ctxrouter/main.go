// Ctxrouter routes host operations to capability providers and compresses
// their context under resource pressure.
//
// Usage:
//
//	# Serve the HTTP API
//	ctxrouter serve
//
//	# Serve MCP tools on stdio
//	ctxrouter mcp
//
//	# One-shot routing and compression
//	echo '{"operation_id":"op-1","kind":"build","intent_text":"add dashboard"}' | ctxrouter route -
//	ctxrouter compress --pressure 0.8 notes.md
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides ~/.config/ctxrouter/config.yaml
	configPath string
	// logLevel overrides logging.level
	logLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ctxrouter",
		Short: "Adaptive request router and context compression engine",
		Long: `ctxrouter analyzes incoming operations, routes them to the capability
providers best suited to serve them, and compresses context payloads to fit
token budgets. Routing improves over time from reported outcomes.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/ctxrouter/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(),
		newMCPCmd(),
		newRouteCmd(),
		newCompressCmd(),
		newEffectivenessCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ctxrouter by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
