package commands

import (
	"github.com/docker/model-ranker/cmd/cli/commands/completion"
	"github.com/spf13/cobra"
)

func newRequestsCmd(getClient clientGetter) *cobra.Command {
	const cmdArgs = "requests RANKER_ID"
	c := &cobra.Command{
		Use:   cmdArgs,
		Short: "Fetch recorded rank requests and responses of a ranker",
		Long: `Fetch the most recent rank requests and responses of a ranker.

Only the bundled local ranking service records exchanges, and only when it
runs with RECORD_REQUESTS=1.`,
		Args: requireArgs(cmdArgs, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getClient().RecordedExchanges(cmd.Context(), args[0])
			if err != nil {
				return handleClientError(err, "Failed to get requests for "+args[0])
			}
			cmd.Print(string(body))
			return nil
		},
		ValidArgsFunction: completion.RankerIDs(getClient, 0),
	}
	return c
}
