package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/docker/model-ranker/pkg/ranker"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newCreateCmd(getClient clientGetter) *cobra.Command {
	var name string
	var wait bool
	const cmdArgs = "create [OPTIONS] FILE"
	c := &cobra.Command{
		Use:   cmdArgs,
		Short: "Train a new ranker from a CSV file of labelled feature vectors",
		Args:  requireArgs(cmdArgs, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("'ranker create' accepts a single training file, got %d", len(args))
			}
			path := args[0]

			dgst, size, err := fileDigest(path)
			if err != nil {
				return errors.Wrap(err, "Failed to read training data")
			}
			cmd.PrintErrf("Uploading %s (%s, %s)\n", filepath.Base(path), units.HumanSize(float64(size)), dgst)

			client := getClient()
			created, err := client.CreateRankerFromFile(cmd.Context(), name, path)
			if err != nil {
				return handleClientError(err, "Failed to create ranker")
			}
			if !wait {
				cmd.Println(created.ID)
				return nil
			}

			available, err := client.AwaitAvailable(cmd.Context(), created.ID,
				ranker.WithPollInterval(pollInterval()),
				ranker.WithStatusHook(newStatusPrinter(cmd)))
			if err != nil {
				return handleClientError(err, fmt.Sprintf("Ranker %s did not become available", created.ID))
			}
			cmd.Println(available.ID)
			return nil
		},
	}
	c.Flags().StringVar(&name, "name", "", "Name of the ranker")
	c.Flags().BoolVar(&wait, "wait", false, "Wait until the ranker has finished training")
	return c
}

// fileDigest returns the sha256 digest and size of the file at path.
func fileDigest(path string) (digest.Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	if info.IsDir() {
		return "", 0, fmt.Errorf("%s is a directory", path)
	}
	dgst, err := digest.SHA256.FromReader(f)
	if err != nil {
		return "", 0, err
	}
	return dgst, info.Size(), nil
}
