package completion

import (
	"github.com/docker/model-ranker/pkg/ranker"
	"github.com/spf13/cobra"
)

func NoComplete(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveNoFileComp
}

// RankerIDs offers completion for the rankers known to the service.
func RankerIDs(getClient func() *ranker.Client, limit int) cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if limit > 0 && len(args) >= limit {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		client := getClient()
		if client == nil {
			return nil, cobra.ShellCompDirectiveError
		}
		list, err := client.ListRankers(cmd.Context())
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		var ids []string
		for _, r := range list.Rankers {
			if r.Name != "" {
				ids = append(ids, r.ID+"\t"+r.Name)
			} else {
				ids = append(ids, r.ID)
			}
		}
		return ids, cobra.ShellCompDirectiveNoFileComp
	}
}
