package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect agents serving the deployment",
}

var agentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of every agent",
	RunE:  runAgentStatus,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentStatusCmd)
}

func runAgentStatus(cmd *cobra.Command, args []string) error {
	gql, err := newGraphQLClient()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	statuses, err := gql.AgentStatuses(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Unable to fetch agent status", err)
	}
	if len(statuses) == 0 {
		fmt.Println("No agents registered.")
		return nil
	}
	for i, st := range statuses {
		fmt.Printf("agent[%d]: %s\n", i, st.Status)
		for _, msg := range st.Errors {
			fmt.Printf("  error: %s\n", msg)
		}
	}
	return nil
}
