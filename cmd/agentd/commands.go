package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentd/internal/auth"
	"github.com/haasonsaas/agentd/internal/config"
)

// =============================================================================
// Serve Command
// =============================================================================

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent daemon",
		Long: `Start the agent daemon.

The daemon will:
1. Load configuration (or defaults when no file exists)
2. Connect the configured model backends, optionally waiting for readiness
3. Open the memory, checkpoint and task stores under storage.data_dir
4. Accept HTTP connections until SIGINT/SIGTERM`,
		Example: `  # Start with the default config location
  agentd serve

  # Start with debug logging
  agentd serve --config ./agentd.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, path, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return err
		},
	}
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(configPath)
			var verr *config.ValidationError
			if errors.As(err, &verr) {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %d problem(s)\n", configPath, len(verr.Issues))
				for _, issue := range verr.Issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
				return errors.New("configuration is invalid")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", configPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")
	return cmd
}

// =============================================================================
// Token Command
// =============================================================================

func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		subject    string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with auth.jwt_secret",
		Example: `  agentd token --subject desktop
  agentd token --subject ci --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("AGENTD_JWT_SECRET")
			expiry := 24 * time.Hour
			if secret == "" {
				cfg, _, err := loadConfig(configPath, cmd.Flags().Changed("config"))
				if err != nil {
					return err
				}
				secret, expiry = cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry
			}
			if secret == "" {
				return errors.New("no jwt secret: set auth.jwt_secret or AGENTD_JWT_SECRET")
			}
			token, err := auth.NewJWTService(secret, expiry).Generate(subject, ttl)
			if err != nil {
				return fmt.Errorf("mint token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")
	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (0 uses auth.token_expiry, negative never expires)")
	return cmd
}

// =============================================================================
// Version Command
// =============================================================================

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentd %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// =============================================================================
// Helpers
// =============================================================================

func defaultConfigPath() string {
	if p := os.Getenv("AGENTD_CONFIG"); p != "" {
		return p
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "agentd", "agentd.yaml")
	}
	return "agentd.yaml"
}

// loadConfig reads path. A missing file at the default location yields the
// defaults; a missing file the user named is an error.
func loadConfig(path string, explicit bool) (*config.Config, string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit && os.Getenv("AGENTD_CONFIG") == "" {
		return config.Default(), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
