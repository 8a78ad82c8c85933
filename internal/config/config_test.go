package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Ultracomm != "ultracomm" {
		t.Errorf("Ultracomm = %q, want %q", cfg.Ultracomm, "ultracomm")
	}
	if cfg.Sync.Channel != 1 {
		t.Errorf("Sync.Channel = %d, want 1", cfg.Sync.Channel)
	}
	if cfg.Sync.Threshold != 0.2 {
		t.Errorf("Sync.Threshold = %v, want 0.2", cfg.Sync.Threshold)
	}
	if cfg.Sync.MinDuration != 0.0005 {
		t.Errorf("Sync.MinDuration = %v, want 0.0005", cfg.Sync.MinDuration)
	}
	if cfg.Connect.Interval != 100*time.Millisecond {
		t.Errorf("Connect.Interval = %v, want 100ms", cfg.Connect.Interval)
	}
	if cfg.Connect.Timeout != 10*time.Second {
		t.Errorf("Connect.Timeout = %v, want 10s", cfg.Connect.Timeout)
	}
	if cfg.PollInterval != 10*time.Millisecond {
		t.Errorf("PollInterval = %v, want 10ms", cfg.PollInterval)
	}
	if !reflect.DeepEqual(cfg.SplitChannels, []int{1, 2}) {
		t.Errorf("SplitChannels = %v, want [1 2]", cfg.SplitChannels)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

// TestLoadConfigValidFile tests loading a valid YAML config file
func TestLoadConfigValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `project_dir: /data/acq
ultracomm: /opt/ultracomm/bin/ultracomm
split_channels: [2]
sync:
  threshold: 0.35
connect:
  timeout: 5s
log_level: debug
catalog:
  enabled: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.ProjectDir != "/data/acq" {
		t.Errorf("ProjectDir = %q, want %q", cfg.ProjectDir, "/data/acq")
	}
	if cfg.Ultracomm != "/opt/ultracomm/bin/ultracomm" {
		t.Errorf("Ultracomm = %q", cfg.Ultracomm)
	}
	if !reflect.DeepEqual(cfg.SplitChannels, []int{2}) {
		t.Errorf("SplitChannels = %v, want [2]", cfg.SplitChannels)
	}
	if cfg.Sync.Threshold != 0.35 {
		t.Errorf("Sync.Threshold = %v, want 0.35", cfg.Sync.Threshold)
	}
	// Unset nested keys keep their defaults
	if cfg.Sync.Channel != 1 {
		t.Errorf("Sync.Channel = %d, want default 1", cfg.Sync.Channel)
	}
	if cfg.Connect.Timeout != 5*time.Second {
		t.Errorf("Connect.Timeout = %v, want 5s", cfg.Connect.Timeout)
	}
	if cfg.Connect.Interval != 100*time.Millisecond {
		t.Errorf("Connect.Interval = %v, want default 100ms", cfg.Connect.Interval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Catalog.Enabled {
		t.Errorf("Catalog.Enabled = true, want false")
	}
}

// TestLoadConfigFileNotExists tests fallback to defaults when file doesn't exist
func TestLoadConfigFileNotExists(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfig() should not error on missing file, got: %v", err)
	}
	if cfg.Ultracomm != "ultracomm" {
		t.Errorf("Ultracomm = %q, want default", cfg.Ultracomm)
	}
}

// TestLoadConfigMalformed tests that a malformed file is an error
func TestLoadConfigMalformed(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("sync: [unterminated"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := LoadConfig(configPath); err == nil {
		t.Fatal("LoadConfig() should fail on malformed YAML")
	}
}

// TestLoadConfigEnvOverridesFile tests precedence: env > file > defaults
func TestLoadConfigEnvOverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := "ultracomm: from-file\nsync:\n  threshold: 0.3\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("ULTRASESSION_ULTRACOMM", "from-env")
	t.Setenv("ULTRASESSION_SYNC__MIN_DURATION", "0.001")
	t.Setenv("ULTRASESSION_CONNECT__INTERVAL", "250ms")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Ultracomm != "from-env" {
		t.Errorf("Ultracomm = %q, want env value", cfg.Ultracomm)
	}
	if cfg.Sync.Threshold != 0.3 {
		t.Errorf("Sync.Threshold = %v, want file value 0.3", cfg.Sync.Threshold)
	}
	if cfg.Sync.MinDuration != 0.001 {
		t.Errorf("Sync.MinDuration = %v, want env value 0.001", cfg.Sync.MinDuration)
	}
	if cfg.Connect.Interval != 250*time.Millisecond {
		t.Errorf("Connect.Interval = %v, want 250ms", cfg.Connect.Interval)
	}
}

// TestMergeWithFlags verifies that non-nil flags override config values
func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	dir := "/tmp/project"
	level := "trace"

	cfg.MergeWithFlags(&dir, nil, &level, nil)

	if cfg.ProjectDir != dir {
		t.Errorf("ProjectDir = %q, want %q", cfg.ProjectDir, dir)
	}
	if cfg.Ultracomm != "ultracomm" {
		t.Errorf("Ultracomm changed by nil flag: %q", cfg.Ultracomm)
	}
	if cfg.LogLevel != level {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, level)
	}
}

// TestValidate covers invalid values
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty project dir", func(c *Config) { c.ProjectDir = "" }, "project_dir"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"threshold out of range", func(c *Config) { c.Sync.Threshold = 1.5 }, "sync.threshold"},
		{"negative channel", func(c *Config) { c.Sync.Channel = -1 }, "sync.channel"},
		{"zero-based split channel", func(c *Config) { c.SplitChannels = []int{0} }, "split_channels"},
		{"timeout below interval", func(c *Config) { c.Connect.Timeout = time.Millisecond }, "connect.timeout"},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, "poll_interval"},
		{"empty recorder", func(c *Config) { c.RecorderCommand = nil }, "recorder_command"},
		{"unknown recorder", func(c *Config) { c.Recorder = "tape" }, "invalid recorder"},
		{"stream without command", func(c *Config) { c.Recorder = RecorderModeStream; c.Stream.Command = nil }, "stream.command"},
		{"stream without rate", func(c *Config) { c.Recorder = RecorderModeStream; c.Stream.SampleRate = 0 }, "stream.sample_rate"},
		{"sync channel beyond stream", func(c *Config) { c.Recorder = RecorderModeStream; c.Stream.Channels = 1 }, "sync.channel"},
		{"catalog without path", func(c *Config) { c.Catalog.DBPath = "" }, "catalog.db_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoadConfigStreamRecorder replaces the stream command rather than
// merging it with the default
func TestLoadConfigStreamRecorder(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `recorder: stream
stream:
  command: [parec, --raw]
  sample_rate: 48000
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Recorder != RecorderModeStream {
		t.Errorf("Recorder = %q, want %q", cfg.Recorder, RecorderModeStream)
	}
	if !reflect.DeepEqual(cfg.Stream.Command, []string{"parec", "--raw"}) {
		t.Errorf("Stream.Command = %v, want [parec --raw]", cfg.Stream.Command)
	}
	if cfg.Stream.SampleRate != 48000 {
		t.Errorf("Stream.SampleRate = %d, want 48000", cfg.Stream.SampleRate)
	}
	if cfg.Stream.Channels != 2 {
		t.Errorf("Stream.Channels = %d, want default 2", cfg.Stream.Channels)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

// TestResolvePath resolves relative paths against the project directory
func TestResolvePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProjectDir = "/data/acq"

	if got := cfg.ResolvePath(".ultrasession/catalog.db"); got != "/data/acq/.ultrasession/catalog.db" {
		t.Errorf("ResolvePath(relative) = %q", got)
	}
	if got := cfg.ResolvePath("/abs/catalog.db"); got != "/abs/catalog.db" {
		t.Errorf("ResolvePath(absolute) = %q", got)
	}
}

// TestGetStateDir tests env override and creation
func TestGetStateDir(t *testing.T) {
	project := t.TempDir()
	t.Setenv("ULTRASESSION_HOME", "")

	dir, err := GetStateDir(project)
	if err != nil {
		t.Fatalf("GetStateDir() error = %v", err)
	}
	if dir != filepath.Join(project, StateDirName) {
		t.Errorf("GetStateDir() = %q", dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("state directory was not created")
	}

	override := filepath.Join(t.TempDir(), "state")
	t.Setenv("ULTRASESSION_HOME", override)
	dir, err = GetStateDir(project)
	if err != nil {
		t.Fatalf("GetStateDir() error = %v", err)
	}
	if dir != override {
		t.Errorf("GetStateDir() = %q, want %q", dir, override)
	}

	manifest, err := GetManifestPath(project, "abc")
	if err != nil {
		t.Fatalf("GetManifestPath() error = %v", err)
	}
	if manifest != filepath.Join(override, "session-abc.yaml") {
		t.Errorf("GetManifestPath() = %q", manifest)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProjectDir = "/data/exp"
	cfg.SplitChannels = []int{2}
	cfg.Connect.Timeout = 3 * time.Second
	cfg.PollInterval = 25 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "timeout: 3s") || !strings.Contains(string(data), "poll_interval: 25ms") {
		t.Errorf("durations not written as strings:\n%s", data)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, loaded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}
