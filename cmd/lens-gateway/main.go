package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lens-gateway",
	Short: "Append-only telemetry store for AI agent sessions",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, "lens-gateway ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
