package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/ultrasession/internal/filelock"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides. Nested keys use a double
// underscore: ULTRASESSION_SYNC__THRESHOLD=0.3 sets sync.threshold.
const EnvPrefix = "ULTRASESSION_"

// SyncConfig configures sync pulse extraction
type SyncConfig struct {
	// Channel is the zero-based audio channel carrying the sync signal
	Channel int `yaml:"channel" koanf:"channel"`

	// Threshold is the normalized amplitude a pulse must exceed
	Threshold float64 `yaml:"threshold" koanf:"threshold"`

	// MinDuration is the time in seconds a pulse must stay above Threshold
	MinDuration float64 `yaml:"min_duration" koanf:"min_duration"`
}

// ConnectConfig configures the control channel client
type ConnectConfig struct {
	// Interval is the back-off between connection attempts
	Interval time.Duration `yaml:"interval" koanf:"interval"`

	// Timeout bounds the connection attempts, measured from the first one
	Timeout time.Duration `yaml:"timeout" koanf:"timeout"`
}

// Recorder modes.
const (
	// RecorderModeCommand hands the WAV path to an external recorder
	RecorderModeCommand = "command"
	// RecorderModeStream encodes raw PCM read from a capture command in-process
	RecorderModeStream = "stream"
)

// StreamConfig configures the in-process recorder
type StreamConfig struct {
	// Command writes raw interleaved little-endian 16-bit PCM to stdout
	Command []string `yaml:"command" koanf:"command"`

	// SampleRate is the stream's frame rate in Hz
	SampleRate int `yaml:"sample_rate" koanf:"sample_rate"`

	// Channels is the number of interleaved channels
	Channels int `yaml:"channels" koanf:"channels"`
}

// CatalogConfig configures the run catalog
type CatalogConfig struct {
	// Enabled records every processed run in the catalog database
	Enabled bool `yaml:"enabled" koanf:"enabled"`

	// DBPath is the SQLite database, relative paths resolve against ProjectDir
	DBPath string `yaml:"db_path" koanf:"db_path"`
}

// Config represents ultrasession configuration options
type Config struct {
	// ProjectDir receives one timestamped directory per acquisition
	ProjectDir string `yaml:"project_dir" koanf:"project_dir"`

	// Ultracomm is the capture daemon command
	Ultracomm string `yaml:"ultracomm" koanf:"ultracomm"`

	// ControlSocket is the local socket the capture daemon listens on
	ControlSocket string `yaml:"control_socket" koanf:"control_socket"`

	// Recorder selects how audio is recorded: "command" or "stream"
	Recorder string `yaml:"recorder" koanf:"recorder"`

	// RecorderCommand is the audio recorder; the output path is appended
	RecorderCommand []string `yaml:"recorder_command" koanf:"recorder_command"`

	// Stream configures the "stream" recorder
	Stream StreamConfig `yaml:"stream" koanf:"stream"`

	// SoxCommand is the channel separation tool
	SoxCommand string `yaml:"sox_command" koanf:"sox_command"`

	// SplitChannels lists the 1-based channels extracted after each run
	SplitChannels []int `yaml:"split_channels" koanf:"split_channels"`

	// ArtifactKind selects the raw image format written by the daemon
	ArtifactKind string `yaml:"artifact_kind" koanf:"artifact_kind"`

	// Sync configures pulse extraction
	Sync SyncConfig `yaml:"sync" koanf:"sync"`

	// Connect configures the control channel client
	Connect ConnectConfig `yaml:"connect" koanf:"connect"`

	// PollInterval is how often the capture daemon is checked for exit
	PollInterval time.Duration `yaml:"poll_interval" koanf:"poll_interval"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level" koanf:"log_level"`

	// LogDir is the directory where session logs are written
	LogDir string `yaml:"log_dir" koanf:"log_dir"`

	// Catalog configures the run catalog
	Catalog CatalogConfig `yaml:"catalog" koanf:"catalog"`

	// MetricsTextfile receives Prometheus metrics after each session (optional)
	MetricsTextfile string `yaml:"metrics_textfile" koanf:"metrics_textfile"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	projectDir := "acq"
	if home, err := os.UserHomeDir(); err == nil {
		projectDir = filepath.Join(home, "acq")
	}

	return &Config{
		ProjectDir:      projectDir,
		Ultracomm:       "ultracomm",
		ControlSocket:   filepath.Join(os.TempDir(), "ultracomm.sock"),
		Recorder:        RecorderModeCommand,
		RecorderCommand: []string{"rec", "-q", "-c", "2"},
		Stream: StreamConfig{
			Command:    []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-c", "2", "-r", "44100"},
			SampleRate: 44100,
			Channels:   2,
		},
		SoxCommand:    "sox",
		SplitChannels: []int{1, 2},
		ArtifactKind:  "bpr",
		Sync: SyncConfig{
			Channel:     1,
			Threshold:   0.2,
			MinDuration: 0.0005, // pulse-stretcher pulses last about 1 ms
		},
		Connect: ConnectConfig{
			Interval: 100 * time.Millisecond,
			Timeout:  10 * time.Second,
		},
		PollInterval: 10 * time.Millisecond,
		LogLevel:     "info",
		LogDir:       filepath.Join(".ultrasession", "logs"),
		Catalog: CatalogConfig{
			Enabled: true,
			DBPath:  filepath.Join(".ultrasession", "catalog.db"),
		},
	}
}

// LoadConfig layers defaults, the YAML file at path and ULTRASESSION_*
// environment variables, in increasing precedence.
// If the file doesn't exist, it is skipped without error.
// If the file exists but is malformed, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Lists replace the defaults instead of being merged element by element.
	if k.Exists("split_channels") {
		cfg.SplitChannels = nil
	}
	if k.Exists("recorder_command") {
		cfg.RecorderCommand = nil
	}
	if k.Exists("stream.command") {
		cfg.Stream.Command = nil
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .ultrasession/config.yaml in the specified directory
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".ultrasession", "config.yaml"))
}

// YAML renders the configuration in the format LoadConfig reads.
func (c *Config) YAML() ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	humanizeDurations(&doc)

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Save writes the configuration to path as YAML that LoadConfig reads back.
func (c *Config) Save(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return filelock.AtomicWrite(path, data)
}

var durationKeys = map[string]bool{"interval": true, "timeout": true, "poll_interval": true}

// humanizeDurations rewrites nanosecond counts as duration strings.
func humanizeDurations(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if !durationKeys[key.Value] || val.Kind != yaml.ScalarNode {
				continue
			}
			if ns, err := strconv.ParseInt(val.Value, 10, 64); err == nil {
				val.SetString(time.Duration(ns).String())
			}
		}
	}
	for _, child := range n.Content {
		humanizeDurations(child)
	}
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(projectDir *string, ultracomm *string, logLevel *string, metricsTextfile *string) {
	if projectDir != nil {
		c.ProjectDir = *projectDir
	}
	if ultracomm != nil {
		c.Ultracomm = *ultracomm
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if metricsTextfile != nil {
		c.MetricsTextfile = *metricsTextfile
	}
}

// ResolvePath resolves p against ProjectDir unless it is absolute
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.ProjectDir == "" {
		return fmt.Errorf("project_dir cannot be empty")
	}
	if c.Ultracomm == "" {
		return fmt.Errorf("ultracomm cannot be empty")
	}
	if c.ControlSocket == "" {
		return fmt.Errorf("control_socket cannot be empty")
	}
	switch c.Recorder {
	case RecorderModeCommand:
		if len(c.RecorderCommand) == 0 || c.RecorderCommand[0] == "" {
			return fmt.Errorf("recorder_command cannot be empty")
		}
	case RecorderModeStream:
		if len(c.Stream.Command) == 0 || c.Stream.Command[0] == "" {
			return fmt.Errorf("stream.command cannot be empty")
		}
		if c.Stream.SampleRate < 1 {
			return fmt.Errorf("stream.sample_rate must be > 0, got %d", c.Stream.SampleRate)
		}
		if c.Stream.Channels < 1 {
			return fmt.Errorf("stream.channels must be > 0, got %d", c.Stream.Channels)
		}
		if c.Sync.Channel >= c.Stream.Channels {
			return fmt.Errorf("sync.channel %d is not among the %d stream channels", c.Sync.Channel, c.Stream.Channels)
		}
	default:
		return fmt.Errorf("invalid recorder %q, must be one of: command, stream", c.Recorder)
	}
	if c.SoxCommand == "" {
		return fmt.Errorf("sox_command cannot be empty")
	}
	for _, ch := range c.SplitChannels {
		if ch < 1 {
			return fmt.Errorf("split_channels are 1-based, got %d", ch)
		}
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.Sync.Channel < 0 {
		return fmt.Errorf("sync.channel must be >= 0, got %d", c.Sync.Channel)
	}
	if c.Sync.Threshold <= -1 || c.Sync.Threshold >= 1 {
		return fmt.Errorf("sync.threshold must be in (-1, 1), got %v", c.Sync.Threshold)
	}
	if c.Sync.MinDuration < 0 {
		return fmt.Errorf("sync.min_duration must be >= 0, got %v", c.Sync.MinDuration)
	}

	if c.Connect.Interval <= 0 {
		return fmt.Errorf("connect.interval must be > 0, got %v", c.Connect.Interval)
	}
	if c.Connect.Timeout < c.Connect.Interval {
		return fmt.Errorf("connect.timeout (%v) must be >= connect.interval (%v)", c.Connect.Timeout, c.Connect.Interval)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0, got %v", c.PollInterval)
	}

	if c.Catalog.Enabled && c.Catalog.DBPath == "" {
		return fmt.Errorf("catalog.db_path cannot be empty when catalog is enabled")
	}

	return nil
}
