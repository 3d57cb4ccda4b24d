// Package cmd is ChainReview's cobra CLI, generalizing the teacher's
// cmd/root.go: one root command carrying global flags, with serve as the
// default action — a stdio core process rather than a gateway daemon.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chainreview/core/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/chainreview/core/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile      string
	verbose      bool
	repoRoot     string
	mode         string
	otelEndpoint string
	dashboardURL string
	sideFD       int
)

var rootCmd = &cobra.Command{
	Use:   "chainreview",
	Short: "ChainReview — multi-agent code review core",
	Long:  "ChainReview: an orchestrator that runs a roster of LLM-driven review agents over a repository, speaking a newline-delimited JSON wire protocol on stdio.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".chainreview.json5", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&repoRoot, "repo-root", ".", "repository root to review")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "repo", "review mode: repo | diff")
	rootCmd.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", os.Getenv("CHAINREVIEW_OTEL_ENDPOINT"), "OTLP collector endpoint (optional)")
	rootCmd.PersistentFlags().StringVar(&dashboardURL, "telemetry-url", os.Getenv("CHAINREVIEW_DASHBOARD_URL"), "dashboard websocket URL for event push (optional)")
	rootCmd.PersistentFlags().IntVar(&sideFD, "side-fd", 3, "file descriptor the side stream (audit events, progress) is written to; falls back to stdout if unopenable")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chainreview %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
