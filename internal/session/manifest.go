package session

import (
	"fmt"
	"time"

	"github.com/harrison/ultrasession/internal/filelock"
	"github.com/harrison/ultrasession/internal/models"
	"gopkg.in/yaml.v3"
)

// Manifest is the YAML record of a session written next to the logs.
type Manifest struct {
	SessionID  string        `yaml:"session_id"`
	StartedAt  time.Time     `yaml:"started_at"`
	Duration   string        `yaml:"duration"`
	ProjectDir string        `yaml:"project_dir"`
	ParamsFile string        `yaml:"params_file"`
	Ultracomm  string        `yaml:"ultracomm"`
	Randomized bool          `yaml:"randomized"`
	Stimuli    []string      `yaml:"stimuli"`
	Runs       []ManifestRun `yaml:"runs"`
	Error      string        `yaml:"error,omitempty"`
}

// ManifestRun is one run entry of a Manifest.
type ManifestRun struct {
	Timestamp string `yaml:"timestamp"`
	Stimulus  string `yaml:"stimulus"`
	Status    string `yaml:"status"`
	Dir       string `yaml:"dir"`
	Duration  string `yaml:"duration"`
}

func newManifestRun(run models.Run) ManifestRun {
	return ManifestRun{
		Timestamp: run.Timestamp,
		Stimulus:  run.Stimulus,
		Status:    run.Status,
		Dir:       run.Dir,
		Duration:  run.Duration.Round(time.Millisecond).String(),
	}
}

// WriteManifest serializes m to path under a file lock.
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return filelock.LockAndWrite(path, data)
}
