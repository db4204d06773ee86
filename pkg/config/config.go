// Package config loads and validates the YAML configuration for one
// resource process: gopkg.in/yaml.v3 for the file, github.com/spf13/cobra
// flags for command-line overrides layered on top.
package config

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
)

// DefaultPollInterval is how often the synchronizer is triggered on a
// timer in addition to being triggered by an explicit Synchronize command,
// when PollInterval is left unset.
const DefaultPollInterval = 5 * time.Minute

// DefaultNetworkTimeout is the default per-operation network timeout,
// resource-configurable.
const DefaultNetworkTimeout = 30 * time.Second

// AdapterConfig names and credentials one entity type's remote source.
// Kind identifies which pkg/sync.Adapter implementation cmd/resourced
// should construct for this type (e.g. "imap", "caldav", "carddav",
// "maildir") — pkg/config itself never constructs an Adapter, since no
// concrete protocol client lives in this tree.
type AdapterConfig struct {
	Kind     string `yaml:"kind"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// TypeConfig is one entity type's section: which adapter feeds it and
// which named preprocessors its pipeline should run, in order.
type TypeConfig struct {
	Adapter       AdapterConfig `yaml:"adapter"`
	Preprocessors []string      `yaml:"preprocessors,omitempty"`
}

// Config is one resource process's full configuration.
type Config struct {
	StorageRoot    string                `yaml:"storageRoot"`
	InstanceID     string                `yaml:"instanceId"`
	PollInterval   time.Duration         `yaml:"pollInterval"`
	NetworkTimeout time.Duration         `yaml:"networkTimeout"`
	LogLevel       string                `yaml:"logLevel"`
	LogJSON        bool                  `yaml:"logJson"`
	SocketPath     string                `yaml:"socketPath"`
	MetricsAddr    string                `yaml:"metricsAddr,omitempty"`
	Types          map[string]TypeConfig `yaml:"types,omitempty"`
}

// Default returns a Config with every non-credential field at its
// documented default.
func Default() *Config {
	return &Config{
		PollInterval:   DefaultPollInterval,
		NetworkTimeout: DefaultNetworkTimeout,
		LogLevel:       "info",
		Types:          map[string]TypeConfig{},
	}
}

// Load reads and parses the YAML file at path, filling in defaults for
// any field the file leaves zero-valued.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, resourceerr.New(resourceerr.KindIOError, op, path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, resourceerr.New(resourceerr.KindInvalidCommand, op, path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.NetworkTimeout == 0 {
		c.NetworkTimeout = DefaultNetworkTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Types == nil {
		c.Types = map[string]TypeConfig{}
	}
}

// Validate reports the first configuration error a resource process
// cannot start without — an empty StorageRoot or InstanceID maps to the
// default exit code 1 via resourceerr.ExitCode, since there is no
// dedicated configuration exit code.
func (c *Config) Validate() error {
	const op = "config.Validate"
	if c.StorageRoot == "" {
		return resourceerr.New(resourceerr.KindInvalidCommand, op, "storageRoot", errMissingStorageRoot)
	}
	if c.InstanceID == "" {
		return resourceerr.New(resourceerr.KindInvalidCommand, op, "instanceId", errMissingInstanceID)
	}
	return nil
}

// BindFlags registers the command-line overrides cmd/resourced exposes
// for every Config field a resource operator is likely to tune without
// editing the YAML file.
func BindFlags(cmd *cobra.Command) {
	cmd.Flags().String("storage-root", "", "directory holding the resource's main and synchronization databases")
	cmd.Flags().String("instance-id", "", "resource instance id")
	cmd.Flags().Duration("poll-interval", DefaultPollInterval, "timer-driven synchronize_with_source interval")
	cmd.Flags().Duration("network-timeout", DefaultNetworkTimeout, "per-operation remote network timeout")
	cmd.Flags().String("socket-path", "", "local command socket path")
	cmd.Flags().String("metrics-addr", "", "address to serve /metrics, /health, /ready, /live on (disabled if empty)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().Bool("log-json", false, "emit structured JSON logs")
}

// ApplyFlags overlays any flag the caller actually set onto cfg, so a
// flag's zero value never clobbers a setting already present in the YAML
// file.
func ApplyFlags(cfg *Config, cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("storage-root") {
		cfg.StorageRoot, _ = flags.GetString("storage-root")
	}
	if flags.Changed("instance-id") {
		cfg.InstanceID, _ = flags.GetString("instance-id")
	}
	if flags.Changed("poll-interval") {
		cfg.PollInterval, _ = flags.GetDuration("poll-interval")
	}
	if flags.Changed("network-timeout") {
		cfg.NetworkTimeout, _ = flags.GetDuration("network-timeout")
	}
	if flags.Changed("socket-path") {
		cfg.SocketPath, _ = flags.GetString("socket-path")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.LogJSON, _ = flags.GetBool("log-json")
	}
}
