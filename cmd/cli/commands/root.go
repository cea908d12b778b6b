package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/docker/model-ranker/pkg/config"
	"github.com/docker/model-ranker/pkg/logging"
	"github.com/docker/model-ranker/pkg/metrics"
	"github.com/docker/model-ranker/pkg/ranker"
	"github.com/docker/model-ranker/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// clientGetter returns the client configured by the root command. Commands
// resolve it when they run, after flags have been parsed.
type clientGetter func() *ranker.Client

type globalOptions struct {
	url        string
	username   string
	password   string
	apiKey     string
	configPath string
	logLevel   string
	metrics    bool
}

var (
	rankerClient *ranker.Client
	// lazyClient builds the client outside of a normal command run, such as
	// during shell completion.
	lazyClient func() (*ranker.Client, error)
	// currentConfig is the resolved configuration, nil until the root
	// command has run.
	currentConfig *config.Config
	// metricsRegistry is non-nil when --metrics was given.
	metricsRegistry *prometheus.Registry
)

func getRankerClient() *ranker.Client {
	if rankerClient == nil && lazyClient != nil {
		if client, err := lazyClient(); err == nil {
			rankerClient = client
		}
	}
	return rankerClient
}

func NewRootCmd() *cobra.Command {
	var opts globalOptions
	rootCmd := &cobra.Command{
		Use:           "ranker",
		Short:         "Train rankers and rank answers with a ranking service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == cobra.ShellCompRequestCmd {
				return nil
			}
			client, err := opts.newClient(cmd, true)
			if err != nil {
				return err
			}
			rankerClient = client
			return nil
		},
	}

	lazyClient = func() (*ranker.Client, error) {
		return opts.newClient(rootCmd, false)
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.url, "url", "", "Ranking service URL (default "+config.DefaultURL+")")
	flags.StringVar(&opts.username, "username", "", "Username for basic authentication")
	flags.StringVar(&opts.password, "password", "", "Password for basic authentication")
	flags.StringVar(&opts.apiKey, "api-key", "", "API key sent in the "+transport.APIKeyHeader+" header")
	flags.StringVar(&opts.configPath, "config", "", "Config file (default $RANKER_CONFIG or ~/.ranker/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.metrics, "metrics", false, "Print request metrics to stderr when done")

	rootCmd.AddCommand(
		newVersionCmd(),
		newCreateCmd(getRankerClient),
		newStatusCmd(getRankerClient),
		newListCmd(getRankerClient),
		newRemoveCmd(getRankerClient),
		newRankCmd(getRankerClient),
		newWaitCmd(getRankerClient),
		newRequestsCmd(getRankerClient),
	)
	return rootCmd
}

// Execute runs rootCmd and then, when --metrics was given, prints the request
// metrics to its error stream. The metrics are printed whether or not the
// command failed.
func Execute(ctx context.Context, rootCmd *cobra.Command) error {
	metricsRegistry = nil
	err := rootCmd.ExecuteContext(ctx)
	if metricsRegistry != nil {
		if mErr := metrics.WriteText(rootCmd.ErrOrStderr(), metricsRegistry); mErr != nil && err == nil {
			err = fmt.Errorf("writing metrics: %w", mErr)
		}
	}
	return err
}

// newClient resolves the configuration (defaults, config file, environment
// and flags, in increasing order of precedence) and builds the client.
func (o *globalOptions) newClient(cmd *cobra.Command, interactive bool) (*ranker.Client, error) {
	cfg, err := config.Load(o.configPath, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	for name, target := range map[string]*string{
		"url":       &cfg.URL,
		"username":  &cfg.Username,
		"password":  &cfg.Password,
		"api-key":   &cfg.APIKey,
		"log-level": &cfg.LogLevel,
	} {
		if flags.Changed(name) {
			value, err := flags.GetString(name)
			if err != nil {
				return nil, err
			}
			*target = value
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if interactive && cfg.Username != "" && cfg.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		cfg.Password, err = promptPassword(cmd, cfg.Username)
		if err != nil {
			return nil, err
		}
	}

	log, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, logging.FormatText)
	if err != nil {
		return nil, err
	}

	cfg.UserAgent = strings.TrimSpace(cfg.UserAgent + " ranker-cli/" + Version)
	transportOpts := cfg.TransportOptions()
	if o.metrics {
		metricsRegistry = prometheus.NewRegistry()
		transportOpts = append(transportOpts,
			transport.WithRoundTripper(metrics.NewClientMetrics(metricsRegistry).RoundTripper))
	}

	service, err := transport.New(cfg.URL, transportOpts...)
	if err != nil {
		return nil, err
	}
	currentConfig = cfg
	return ranker.New(service, ranker.WithLogger(log.WithField("component", "ranker-client"))), nil
}

func promptPassword(cmd *cobra.Command, username string) (string, error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", username)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}
