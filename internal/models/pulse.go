package models

// SyncPulse is a detected timing event in the synchronization channel.
type SyncPulse struct {
	Sample int     // Sample index of the rising edge
	Time   float64 // Seconds, rounded half-to-even to 4 decimals
	Index  int     // Zero-based sequence index
}

// RuntimeVariable is an experiment condition inferred from the run's
// position in the experiment directory tree.
type RuntimeVariable struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}
