package commands

import (
	"github.com/docker/model-ranker/cmd/cli/commands/completion"
	"github.com/spf13/cobra"
)

var Version = "dev"

func newVersionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "version",
		Short: "Show the ranker CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("ranker version %s\n", Version)
		},
		ValidArgsFunction: completion.NoComplete,
	}
	return c
}
