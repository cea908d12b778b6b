package commands

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docker/model-ranker/cmd/cli/commands/completion"
	"github.com/docker/model-ranker/pkg/ranker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWaitCmd(getClient clientGetter) *cobra.Command {
	var interval, timeout time.Duration
	var maxAttempts int
	const cmdArgs = "wait [OPTIONS] RANKER_ID [RANKER_ID...]"
	c := &cobra.Command{
		Use:   cmdArgs,
		Short: "Wait until rankers have finished training",
		Args:  requireArgs(cmdArgs, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interval") {
				interval = pollInterval()
			}
			opts := []ranker.WaitOption{
				ranker.WithPollInterval(interval),
				ranker.WithMaxAttempts(maxAttempts),
				ranker.WithStatusHook(newStatusPrinter(cmd)),
			}
			if timeout > 0 {
				opts = append(opts, ranker.WithDeadline(time.Now().Add(timeout)))
			}

			client := getClient()
			var mu sync.Mutex
			var errs []error
			// A failure does not cancel the other waits: every ranker gets a
			// final answer and every failure is reported.
			var g errgroup.Group
			for _, id := range args {
				g.Go(func() error {
					available, err := client.AwaitAvailable(cmd.Context(), id, opts...)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, handleClientError(err, fmt.Sprintf("Failed waiting for ranker %s", id)))
						return nil
					}
					cmd.Println(available.ID)
					return nil
				})
			}
			_ = g.Wait()
			return errors.Join(errs...)
		},
		ValidArgsFunction: completion.RankerIDs(getClient, 0),
	}
	c.Flags().DurationVar(&interval, "interval", ranker.DefaultPollInterval, "Time between status checks")
	c.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Give up after this many status checks (0 means no limit)")
	c.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 means no limit)")
	return c
}
