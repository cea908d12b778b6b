package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/docker/model-ranker/pkg/config"
	"github.com/docker/model-ranker/pkg/ranker"
	"github.com/docker/model-ranker/pkg/transport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	requests      int
	maxConcurrent int
	topAnswers    int
)

var rootCmd = &cobra.Command{
	Use:   "parallelrank <ranker-id> <candidates.csv>",
	Short: "Benchmark sequential vs concurrent rank requests",
	Long: `parallelrank is a benchmarking tool that sends the same rank request to a
ranking service repeatedly, first one request at a time and then with several
requests in flight, and compares the results and timings.

The service location and credentials are read from the usual ranker
configuration file and environment variables.`,
	Args:         cobra.ExactArgs(2),
	RunE:         runBenchmark,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().IntVar(&requests, "requests", 20, "Number of rank requests per run")
	rootCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 4, "Maximum concurrent requests in the parallel run")
	rootCmd.Flags().IntVar(&topAnswers, "top", 0, "Number of answers to request (0 uses the service default)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	rankerID, candidatesPath := args[0], args[1]
	if requests < 1 || maxConcurrent < 1 {
		return fmt.Errorf("--requests and --max-concurrent must be positive")
	}

	candidates, err := os.ReadFile(candidatesPath)
	if err != nil {
		return fmt.Errorf("failed to read candidates: %w", err)
	}

	cfg, err := config.Load("", os.LookupEnv)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	service, err := transport.New(cfg.URL, cfg.TransportOptions()...)
	if err != nil {
		return err
	}
	client := ranker.New(service)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Printf("Benchmarking rank requests against %s (ranker %s)\n", service.BaseURL(), rankerID)
	fmt.Printf("Configuration: requests=%d, max-concurrent=%d, candidates=%s\n\n",
		requests, maxConcurrent, units.HumanSize(float64(len(candidates))))

	fmt.Println("Running sequential benchmark...")
	sequentialDuration, sequentialTop, err := runRequests(ctx, client, rankerID, candidates, 1)
	if err != nil {
		return fmt.Errorf("sequential benchmark failed: %w", err)
	}
	fmt.Printf("✓ Sequential: %d requests in %v (%.2f req/s)\n", requests, sequentialDuration,
		float64(requests)/sequentialDuration.Seconds())

	fmt.Println("Running parallel benchmark...")
	parallelDuration, parallelTop, err := runRequests(ctx, client, rankerID, candidates, maxConcurrent)
	if err != nil {
		return fmt.Errorf("parallel benchmark failed: %w", err)
	}
	fmt.Printf("✓ Parallel: %d requests in %v (%.2f req/s)\n", requests, parallelDuration,
		float64(requests)/parallelDuration.Seconds())

	fmt.Println("Validating ranking consistency...")
	if err := validateTopAnswers(sequentialTop, parallelTop); err != nil {
		return fmt.Errorf("ranking validation failed: %w", err)
	}
	fmt.Println("✓ Every request returned the same top answer")

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("PERFORMANCE COMPARISON")
	fmt.Println(strings.Repeat("=", 60))

	speedup := float64(sequentialDuration) / float64(parallelDuration)
	if speedup > 1.0 {
		fmt.Printf("🚀 Parallel was %.2fx faster than sequential\n", speedup)
		fmt.Printf("⏱️  Time saved: %v (%.1f%%)\n", sequentialDuration-parallelDuration, (1.0-1.0/speedup)*100)
	} else if speedup < 1.0 {
		slowdown := 1.0 / speedup
		fmt.Printf("⚠️  Parallel was %.2fx slower than sequential\n", slowdown)
		fmt.Printf("⏱️  Time penalty: %v (%.1f%%)\n", parallelDuration-sequentialDuration, (slowdown-1.0)*100)
	} else {
		fmt.Println("📊 Both approaches performed equally")
	}

	fmt.Printf("\nDetailed timing:\n")
	fmt.Printf("  Sequential: %v (%v per request)\n", sequentialDuration, sequentialDuration/time.Duration(requests))
	fmt.Printf("  Parallel:   %v (%v per request)\n", parallelDuration, parallelDuration/time.Duration(requests))
	fmt.Printf("  Difference: %v\n", parallelDuration-sequentialDuration)

	return nil
}

// runRequests sends the configured number of rank requests with at most
// concurrency in flight and returns the top answer of each.
func runRequests(ctx context.Context, client *ranker.Client, rankerID string, candidates []byte, concurrency int) (time.Duration, []string, error) {
	tops := make([]string, requests)
	progress := newProgress("  Progress", requests)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	start := time.Now()
	for i := range requests {
		g.Go(func() error {
			ranking, err := client.Rank(ctx, rankerID, bytes.NewReader(candidates), topAnswers)
			if err != nil {
				return fmt.Errorf("request %d: %w", i+1, err)
			}
			tops[i] = ranking.TopAnswer
			progress.increment()
			return nil
		})
	}
	err := g.Wait()
	progress.finish()
	if err != nil {
		return 0, nil, err
	}
	return time.Since(start), tops, nil
}

func validateTopAnswers(sequential, parallel []string) error {
	want := sequential[0]
	for i, top := range sequential {
		if top != want {
			return fmt.Errorf("sequential request %d returned %q, expected %q", i+1, top, want)
		}
	}
	for i, top := range parallel {
		if top != want {
			return fmt.Errorf("parallel request %d returned %q, expected %q", i+1, top, want)
		}
	}
	return nil
}
