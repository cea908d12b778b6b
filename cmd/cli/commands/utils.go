package commands

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/docker/model-ranker/pkg/ranker"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var notReachableErr = fmt.Errorf("The ranking service is not available. Please check --url and try again.")

var unauthorizedErr = fmt.Errorf("The ranking service rejected the credentials. Please check --username, --password or --api-key.")

// ExitError ends the program with Code without printing anything more. The
// command has already reported the outcome on its output.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func handleClientError(err error, message string) error {
	switch {
	case errors.Is(err, ranker.ErrServiceUnavailable):
		return notReachableErr
	case errors.Is(err, ranker.ErrUnauthorized):
		return unauthorizedErr
	}
	return errors.Wrap(err, message)
}

// requireArgs mimics the usage errors of the other commands.
func requireArgs(use string, minArgs int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < minArgs {
			return fmt.Errorf(
				"'ranker %s' requires at least %d argument(s).\n\n"+
					"Usage:  ranker %s\n\n"+
					"See 'ranker %s --help' for more information",
				cmd.Name(), minArgs, use, cmd.Name(),
			)
		}
		return nil
	}
}

// colorStatus renders a status the way humans expect to read it.
func colorStatus(status ranker.Status) string {
	switch status {
	case ranker.StatusAvailable:
		return color.GreenString(string(status))
	case ranker.StatusTraining:
		return color.YellowString(string(status))
	case ranker.StatusFailed, ranker.StatusNonExistent:
		return color.RedString(string(status))
	default:
		return string(status)
	}
}

// pollInterval is the configured poll interval, or the default before the
// configuration has been loaded.
func pollInterval() time.Duration {
	if currentConfig != nil && currentConfig.PollInterval > 0 {
		return currentConfig.PollInterval
	}
	return ranker.DefaultPollInterval
}

// newStatusPrinter reports status changes seen while waiting. On a terminal
// the line is rewritten in place; otherwise only changes are printed.
func newStatusPrinter(cmd *cobra.Command) func(*ranker.Ranker) {
	out := cmd.ErrOrStderr()
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	var mu sync.Mutex
	last := map[string]ranker.Status{}
	return func(r *ranker.Ranker) {
		mu.Lock()
		defer mu.Unlock()
		if tty {
			fmt.Fprintf(out, "\r\033[K%s: %s", r.ID, colorStatus(r.Status))
			if r.Status != ranker.StatusTraining {
				fmt.Fprintln(out)
			}
			return
		}
		if last[r.ID] != r.Status {
			last[r.ID] = r.Status
			fmt.Fprintf(out, "%s: %s\n", r.ID, r.Status)
		}
	}
}
