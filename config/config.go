package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"rssbot/extract"

	"github.com/BurntSushi/toml"
)

const DefaultAddress = "127.0.0.1:3006"

// Config holds everything needed to run the bot. Values are layered:
// defaults, then the TOML file, then flags and environment variables.
type Config struct {
	HomeserverURL string `toml:"homeserver_url"`
	Username      string `toml:"username"`
	Password      string `toml:"password"`

	// Where the feeds are served
	Address string `toml:"address"`

	// Where Prometheus metrics are served, disabled when empty
	MetricsAddress string `toml:"metrics_address"`

	FetchTimeout          time.Duration `toml:"fetch_timeout"`
	FetchMaxBytes         int64         `toml:"fetch_max_bytes"`
	FetchRate             float64       `toml:"fetch_rate"` // Fetches per second, 0 is unlimited
	AllowPrivateAddresses bool          `toml:"allow_private_addresses"`
	AllowedPorts          []int         `toml:"allowed_ports"` // Ignored when private addresses are allowed

	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

func Default() *Config {
	return &Config{
		Address:       DefaultAddress,
		FetchTimeout:  extract.DefaultFetchTimeout,
		FetchMaxBytes: extract.DefaultFetchMaxBytes,
		AllowedPorts:  append([]int(nil), extract.DefaultAllowedPorts...),
		Workers:       10,
		QueueSize:     1000,
	}
}

// LoadConfig reads a TOML file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Default()
	meta, err := toml.Decode(string(data), config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("unknown keys in config file: %s", strings.Join(keys, ", "))
	}

	return config, nil
}

// Validate reports every missing or invalid setting at once
func (c *Config) Validate() error {
	var missing []string
	if c.HomeserverURL == "" {
		missing = append(missing, "homeserver_url (HOMESERVER_URL)")
	}
	if c.Username == "" {
		missing = append(missing, "username (BOT_USERNAME)")
	}
	if c.Password == "" {
		missing = append(missing, "password (BOT_PASSWORD)")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required settings: %s", strings.Join(missing, ", ")))
	}

	if c.HomeserverURL != "" {
		u, err := url.Parse(c.HomeserverURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("homeserver_url must be an http or https URL, got %q", c.HomeserverURL))
		}
	}
	if c.Address == "" {
		errs = append(errs, errors.New("address must not be empty"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize))
	}
	if len(c.AllowedPorts) == 0 {
		errs = append(errs, errors.New("allowed_ports must not be empty"))
	}
	for _, port := range c.AllowedPorts {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("allowed_ports contains invalid port %d", port))
		}
	}
	if c.FetchRate < 0 {
		errs = append(errs, fmt.Errorf("fetch_rate must not be negative, got %g", c.FetchRate))
	}

	return errors.Join(errs...)
}

// FetcherConfig returns the settings for page title fetches
func (c *Config) FetcherConfig() extract.FetcherConfig {
	return extract.FetcherConfig{
		Timeout:               c.FetchTimeout,
		MaxBytes:              c.FetchMaxBytes,
		Rate:                  c.FetchRate,
		AllowPrivateAddresses: c.AllowPrivateAddresses,
		AllowedPorts:          c.AllowedPorts,
	}
}
