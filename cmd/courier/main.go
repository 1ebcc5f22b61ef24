package main

import (
	"os"

	"courier/internal/logger"

	"github.com/spf13/cobra"
)

func main() {
	logger.Init()
	rootCmd := &cobra.Command{
		Use:   "courier",
		Short: "Courier relays chat sessions to conversational agents over HTTP",
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
