// Package cli provides the command-line interface for gatechat.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/gatechat/internal/chat"
	"github.com/raphaelgruber/gatechat/internal/config"
	"github.com/raphaelgruber/gatechat/internal/gateway"
	"github.com/raphaelgruber/gatechat/internal/metrics"
	"github.com/raphaelgruber/gatechat/internal/models"
	"github.com/raphaelgruber/gatechat/internal/store"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and wiring, set up in PersistentPreRunE
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error

	serverStore *store.ServerStore
	convStore   *store.ConversationStore
	collector   *metrics.Collector
	gwClient    *gateway.Client
	orch        *chat.Orchestrator
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gatechat",
	Short: "Terminal client for chat gateway servers",
	Long: `Gatechat is a terminal client for self-hosted chat gateway servers.

Register one or more gateways, log in, and stream model replies from the
providers each gateway brokers. Conversations are stored locally.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "version", "help", "completion":
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, logCleanup = config.SetupLogger(cfg.LogFile, level)

		serverStore, err = store.OpenServerStore(cfg.ServersDBPath(), logger)
		if err != nil {
			return fmt.Errorf("open server registry: %w", err)
		}
		convStore, err = store.OpenConversationStore(cfg.ChatDBPath(), logger)
		if err != nil {
			return fmt.Errorf("open conversation store: %w", err)
		}

		collector = metrics.NewCollector()
		gwClient = gateway.New(&gateway.Config{Timeout: cfg.RequestTimeout}, collector)
		orch = chat.New(gwClient, serverStore, convStore, logger, collector)

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if convStore != nil {
			if err := convStore.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close conversation store: %v\n", err)
			}
		}
		if serverStore != nil {
			if err := serverStore.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close server registry: %v\n", err)
			}
		}
		if logCleanup != nil {
			logCleanup()
		}
	},
}

// activeConversation resolves the current conversation, seeding the store on
// first use.
func activeConversation() (models.Conversation, error) {
	return convStore.LoadOrInit(cfg.DefaultProvider, cfg.DefaultModel, orch.Greeting())
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(chatCmd)
}
