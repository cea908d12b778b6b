package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/model-ranker/pkg/ranker"
	"github.com/docker/model-ranker/pkg/transport"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultURL is where the local ranking service listens by default.
	DefaultURL = "http://localhost:8080"

	envConfig    = "RANKER_CONFIG"
	envURL       = "RANKER_URL"
	envUsername  = "RANKER_USERNAME"
	envPassword  = "RANKER_PASSWORD"
	envAPIKey    = "RANKER_API_KEY"
	envUserAgent = "USER_AGENT"
	envTimeout   = "RANKER_TIMEOUT"
)

// Config holds the settings needed to reach a ranking service.
type Config struct {
	URL          string        `yaml:"url"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	APIKey       string        `yaml:"api_key"`
	UserAgent    string        `yaml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LogLevel     string        `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		URL:          DefaultURL,
		Timeout:      transport.DefaultTimeout,
		PollInterval: ranker.DefaultPollInterval,
		LogLevel:     "info",
	}
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Path returns the config file location: $RANKER_CONFIG if set, otherwise
// ~/.ranker/config.yaml. explicit reports whether the path came from the
// environment.
func Path(lookup LookupFunc) (path string, explicit bool, err error) {
	if p, ok := lookup(envConfig); ok && p != "" {
		return p, true, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".ranker", "config.yaml"), false, nil
}

// Load builds the configuration from the defaults, the config file and the
// environment, in increasing order of precedence. path overrides the file
// location; a missing file is only an error when its location was chosen
// explicitly.
func Load(path string, lookup LookupFunc) (*Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		path, explicit, err = Path(lookup)
		if err != nil {
			return nil, err
		}
	}

	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromYAML reads a config file on top of the defaults.
func LoadFromYAML(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for key, field := range map[string]*string{
		envURL:       &c.URL,
		envUsername:  &c.Username,
		envPassword:  &c.Password,
		envAPIKey:    &c.APIKey,
		envUserAgent: &c.UserAgent,
	} {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}
	if v, ok := lookup(envTimeout); ok && v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envTimeout, v, err)
		}
		c.Timeout = timeout
	}
	return nil
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("service URL is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout can not be negative, got %s", c.Timeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.APIKey != "" && c.Username != "" {
		return errors.New("use either an API key or a username, not both")
	}
	return nil
}

// Credentials returns the credentials to send, if any. An API key takes
// precedence over basic auth.
func (c *Config) Credentials() (transport.Credentials, bool) {
	switch {
	case c.APIKey != "":
		return transport.Credentials{Type: transport.AuthAPIKey, APIKey: c.APIKey}, true
	case c.Username != "":
		return transport.Credentials{Type: transport.AuthBasic, Username: c.Username, Password: c.Password}, true
	default:
		return transport.Credentials{}, false
	}
}

// TransportOptions translates the settings into transport options.
func (c *Config) TransportOptions() []transport.Option {
	opts := []transport.Option{transport.WithTimeout(c.Timeout)}
	if creds, ok := c.Credentials(); ok {
		opts = append(opts, transport.WithCredentials(creds))
	}
	if c.UserAgent != "" {
		opts = append(opts, transport.WithUserAgent(c.UserAgent))
	}
	return opts
}
