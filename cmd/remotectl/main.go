package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orangootan/remote/pkg/remote"
)

var (
	debug      bool
	configPath string
	serverURL  string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "remotectl",
	Short: "Talk to a remote object execution server",
	Long: `remotectl sends single calls to an execution server using the same
request encoding, fingerprints and polling as the Go client.

Example:
  remotectl call --path math --function add --arg 2 --arg 3
  remotectl fingerprint --object o1 --function count
  remotectl clear`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if debug {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log requests, cache hits and polling")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $REMOTE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "server url, overrides the config")

	callFlags(callCmd)
	callFlags(fingerprintCmd)
	rootCmd.AddCommand(callCmd, fingerprintCmd, clearCmd)
}

func loadConfig() (remote.Config, error) {
	config, err := remote.LoadConfig(configPath)
	if err != nil {
		return config, err
	}
	if serverURL != "" {
		config.URL = serverURL
		config.Etcd.Endpoints = nil
	}
	return config, nil
}

func newClient(cmd *cobra.Command) (*remote.Client, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return remote.NewClient("remotectl", config,
		remote.WithLogger(logger),
		remote.WithOutput(cmd.ErrOrStderr()))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
