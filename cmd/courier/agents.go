package main

import (
	"fmt"

	"courier/internal/agent"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the available agents",
	Run: func(cmd *cobra.Command, args []string) {
		catalog := agent.NewCatalog(nil, nil, agent.NewRegistry())
		for _, d := range catalog.Descriptors() {
			fmt.Printf("%-10s %-20s %s\n", d.ID, d.DisplayName, d.Description)
		}
	},
}
