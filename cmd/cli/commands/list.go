package commands

import (
	"time"

	"github.com/docker/model-ranker/cmd/cli/commands/completion"
	"github.com/docker/model-ranker/cmd/cli/commands/formatter"
	"github.com/spf13/cobra"
)

func newListCmd(getClient clientGetter) *cobra.Command {
	var jsonFormat, quiet bool
	c := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the rankers owned by the current credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := getClient().ListRankers(cmd.Context())
			if err != nil {
				return handleClientError(err, "Failed to list rankers")
			}

			switch {
			case jsonFormat:
				out, err := formatter.ToStandardJSON(list.Rankers)
				if err != nil {
					return err
				}
				cmd.Print(out)
			case quiet:
				for _, r := range list.Rankers {
					cmd.Println(r.ID)
				}
			default:
				cmd.Print(formatter.Rankers(list.Rankers, time.Now()))
			}
			return nil
		},
		ValidArgsFunction: completion.NoComplete,
	}
	c.Flags().BoolVar(&jsonFormat, "json", false, "List rankers in JSON format")
	c.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only show ranker IDs")
	c.MarkFlagsMutuallyExclusive("json", "quiet")
	return c
}
