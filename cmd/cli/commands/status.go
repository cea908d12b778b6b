package commands

import (
	"time"

	"github.com/docker/model-ranker/cmd/cli/commands/completion"
	"github.com/docker/model-ranker/cmd/cli/commands/formatter"
	"github.com/docker/model-ranker/pkg/ranker"
	"github.com/spf13/cobra"
)

func newStatusCmd(getClient clientGetter) *cobra.Command {
	var jsonFormat bool
	const cmdArgs = "status RANKER_ID"
	c := &cobra.Command{
		Use:   cmdArgs,
		Short: "Show the training status of a ranker",
		Args:  requireArgs(cmdArgs, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := getClient().GetRankerStatus(cmd.Context(), args[0])
			if err != nil {
				return handleClientError(err, "Failed to get ranker status")
			}

			if jsonFormat {
				out, err := formatter.ToStandardJSON(r)
				if err != nil {
					return err
				}
				cmd.Print(out)
			} else {
				cmd.Printf("Ranker:  %s\n", r.ID)
				if r.Name != "" {
					cmd.Printf("Name:    %s\n", r.Name)
				}
				cmd.Printf("Status:  %s\n", colorStatus(r.Status))
				if !r.Created.IsZero() {
					cmd.Printf("Created: %s\n", r.Created.Local().Format(time.RFC1123))
				}
				if r.StatusDescription != "" {
					cmd.Printf("\n%s\n", r.StatusDescription)
				}
			}

			switch r.Status {
			case ranker.StatusAvailable, ranker.StatusTraining:
				return nil
			default:
				return &ExitError{Code: 1}
			}
		},
		ValidArgsFunction: completion.RankerIDs(getClient, 1),
	}
	c.Flags().BoolVar(&jsonFormat, "json", false, "Print the status in JSON format")
	return c
}
