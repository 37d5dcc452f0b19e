package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Davincible/omnillm/internal/config"
	"github.com/Davincible/omnillm/internal/logger"
)

const (
	AppName = "omnillm"
	Version = "0.1.0"
)

var (
	log     *slog.Logger
	baseDir string
	cfgMgr  *config.Manager

	flagVerbose bool
	flagJSONLog bool
)

func init() {
	log = logger.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Error("Failed to get home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, "."+AppName)
	cfgMgr = config.NewManager(baseDir)
}

var rootCmd = &cobra.Command{
	Use:     AppName,
	Short:   "Unified streaming client for LLM providers",
	Long:    `Talks to OpenAI, Anthropic, Gemini and compatible APIs through one normalized streaming interface, with tool calling and automatic tool recursion.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		log = logger.New(
			logger.WithDebug(flagVerbose),
			logger.WithPretty(!flagJSONLog),
			logger.WithJSON(flagJSONLog),
		)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "log in JSON format")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(configCmd)
}
