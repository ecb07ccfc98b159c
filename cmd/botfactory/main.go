// ABOUTME: Entry point for botfactory, the multi-tenant chat bot supervisor
// ABOUTME: Builds the cobra command tree and runs it under a signal-aware context

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var version = "dev"

const banner = `
 _           _    __            _
| |__   ___ | |_ / _| __ _  ___| |_ ___  _ __ _   _
| '_ \ / _ \| __| |_ / _' |/ __| __/ _ \| '__| | | |
| |_) | (_) | |_|  _| (_| | (__| || (_) | |  | |_| |
|_.__/ \___/ \__|_|  \__,_|\___|\__\___/|_|   \__, |
                                              |___/
`

// getConfigPath returns the path to the config file.
// Priority: BOTFACTORY_CONFIG env var > XDG_CONFIG_HOME/botfactory/config.yaml > ~/.config/botfactory/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BOTFACTORY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "botfactory.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "botfactory", "config.yaml")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "botfactory",
		Short: "botfactory - host many Telegram bots in one process",
		Long: `botfactory runs a provisioning bot that lets operators create their own
Telegram bots. Each bot gets an LLM-generated behavior profile and keeps a
short conversation history per user.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(),
		"Path to YAML configuration file")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildInitCmd(&configPath),
		buildTokenCmd(&configPath),
		buildHealthCmd(&configPath),
		buildTenantsCmd(&configPath),
	)

	return rootCmd
}
