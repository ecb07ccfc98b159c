// ABOUTME: Cobra command definitions and their flags
// ABOUTME: Each builder wires a command to its run function

package main

import (
	"time"

	"github.com/spf13/cobra"
)

func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the factory bot, tenants and HTTP server",
		Long: `Start botfactory.

The server will:
1. Load configuration (defaults plus FACTORY_BOT_TOKEN when no file exists)
2. Open the tenant registry
3. Serve health, metrics and the operator API
4. Connect the factory bot
5. Start every tenant flagged active

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func buildInitCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.OutOrStdout(), *configPath, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func buildTokenCmd(configPath *string) *cobra.Command {
	var (
		owner int64
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator API token",
		Example: `  # Token for Telegram user 123456 valid for 30 days
  botfactory token --owner 123456 --ttl 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd.OutOrStdout(), *configPath, owner, ttl)
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Telegram user ID of the operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func buildHealthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), cmd.OutOrStdout(), *configPath)
		},
	}
}

func buildTenantsCmd(configPath *string) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "List your tenants via the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenants(cmd.Context(), cmd.OutOrStdout(), *configPath, token)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Operator API token (see botfactory token)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
