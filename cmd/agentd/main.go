// Package main provides the CLI entry point for agentd, the local-inference
// agent runtime.
//
// agentd serves an HTTP API on loopback that runs tool-calling agents against
// a local or remote language model, streams their steps, checkpoints long
// runs and keeps a versioned memory.
//
// # Basic Usage
//
// Start the daemon:
//
//	agentd serve --config agentd.yaml
//
// Check a configuration file:
//
//	agentd config validate --config agentd.yaml
//
// Mint a bearer token (requires auth.jwt_secret):
//
//	agentd token --subject desktop --ttl 720h
//
// # Environment Variables
//
//   - AGENTD_CONFIG: Path to configuration file
//   - AGENTD_JWT_SECRET: Overrides auth.jwt_secret for the token command
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentd",
		Short: "Local-inference agent runtime",
		Long: `agentd runs tool-calling agents against a language model backend and
exposes them over a loopback HTTP API with SSE and WebSocket streaming.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildTokenCmd(),
		buildVersionCmd(),
	)
	return root
}
