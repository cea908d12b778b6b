package commands

import (
	"errors"
	"fmt"

	"github.com/docker/model-ranker/cmd/cli/commands/completion"
	"github.com/spf13/cobra"
)

func newRemoveCmd(getClient clientGetter) *cobra.Command {
	const cmdArgs = "rm RANKER_ID [RANKER_ID...]"
	c := &cobra.Command{
		Use:     cmdArgs,
		Aliases: []string{"remove"},
		Short:   "Delete rankers",
		Args:    requireArgs(cmdArgs, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := getClient()
			var errs []error
			for _, id := range args {
				if err := client.DeleteRanker(cmd.Context(), id); err != nil {
					errs = append(errs, handleClientError(err, fmt.Sprintf("Failed to remove ranker %s", id)))
					continue
				}
				cmd.Println("Deleted:", id)
			}
			return errors.Join(errs...)
		},
		ValidArgsFunction: completion.RankerIDs(getClient, 0),
	}
	return c
}
