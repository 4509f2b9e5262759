package config

// Config represents a complete redispatch run configuration.
type Config struct {
	Include []string      `yaml:"include,omitempty"`
	Service ServiceConfig `yaml:"service"`
	Journal JournalConfig `yaml:"journal"`
	Policy  PolicyConfig  `yaml:"policy"`
	Units   []UnitConfig  `yaml:"units"`

	// SourceFiles lists every file that contributed to this config, root first.
	SourceFiles []string `yaml:"-"`
	// Fingerprint is blake3:<hex> over the contents of SourceFiles.
	Fingerprint string `yaml:"-"`
}

// ServiceConfig defines process-level settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	TrailSize int    `yaml:"trail_size,omitempty"`
}

// JournalConfig defines the SQLite failure journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// PolicyConfig defines the recovery registry.
type PolicyConfig struct {
	Default string       `yaml:"default,omitempty"`
	Rules   []RuleConfig `yaml:"rules"`
}

// RuleConfig binds a built-in strategy to a (unit kind, failure kind) pair.
type RuleConfig struct {
	Unit     string `yaml:"unit"`
	Failure  string `yaml:"failure"`
	Strategy string `yaml:"strategy"`
}

// UnitConfig describes a scripted unit seeded into the queue.
type UnitConfig struct {
	Kind string `yaml:"kind"`
	// Outcomes are consumed one per run: "ok" succeeds, "panic" panics, anything
	// else fails with that failure kind. Runs past the end succeed.
	Outcomes []string `yaml:"outcomes,omitempty"`
	// Repeat seeds this many independent copies (default 1).
	Repeat int `yaml:"repeat,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "redispatch",
			LogLevel:  "info",
			LogFormat: "json",
			TrailSize: 256,
		},
	}
}
