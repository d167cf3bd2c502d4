package engine

import "time"

// RetentionConfig controls how long the pass journal is kept.
type RetentionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	PassTTL       time.Duration `yaml:"pass_ttl"`
	KeepSnapshots int           `yaml:"keep_snapshots"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// DefaultRetention keeps a week of passes and the last five snapshots.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		Enabled:       true,
		PassTTL:       7 * 24 * time.Hour,
		KeepSnapshots: 5,
		CheckInterval: time.Hour,
	}
}
