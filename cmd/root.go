// Package cmd implements the mu command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mubot/mu/internal/log"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "mu",
	Short: "Mu conversational AI service",
	Long: `Mu is a conversational AI service built on Genkit. It streams
assistant replies over SSE and WebSocket, persists conversations, and can
expose its tools to external clients over MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is the only entry point main calls.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// newLogger builds the process logger from the --log-level flag.
func newLogger() log.Logger {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		level, _ = log.ParseLevel("info")
	}
	return log.New(log.Config{Level: level})
}
