package commands

import (
	"fmt"

	"github.com/docker/model-ranker/cmd/cli/commands/completion"
	"github.com/docker/model-ranker/cmd/cli/commands/formatter"
	"github.com/spf13/cobra"
)

func newRankCmd(getClient clientGetter) *cobra.Command {
	var jsonFormat bool
	var top int
	const cmdArgs = "rank [OPTIONS] RANKER_ID FILE"
	c := &cobra.Command{
		Use:   cmdArgs,
		Short: "Rank the candidate answers in a CSV file",
		Args:  requireArgs(cmdArgs, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 2 {
				return fmt.Errorf("'ranker rank' accepts a ranker ID and a single candidate file, got %d arguments", len(args))
			}

			ranking, err := getClient().RankFile(cmd.Context(), args[0], args[1], top)
			if err != nil {
				return handleClientError(err, "Failed to rank answers")
			}

			if jsonFormat {
				out, err := formatter.ToStandardJSON(ranking)
				if err != nil {
					return err
				}
				cmd.Print(out)
				return nil
			}
			cmd.Printf("Top answer: %s\n\n", ranking.TopAnswer)
			cmd.Print(formatter.Ranking(ranking))
			return nil
		},
		ValidArgsFunction: completion.RankerIDs(getClient, 1),
	}
	c.Flags().IntVar(&top, "top", 0, "Number of answers to return (0 uses the service default)")
	c.Flags().BoolVar(&jsonFormat, "json", false, "Print the ranking in JSON format")
	return c
}
