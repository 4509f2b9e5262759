package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/redispatch/internal/recovery"
	"github.com/mattjoyce/redispatch/internal/unit"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoUnits is returned by Validate when nothing would be queued.
var ErrNoUnits = errors.New("units: at least one unit is required")

// OutcomeOK and OutcomePanic are the non-failure entries of UnitConfig.Outcomes.
const (
	OutcomeOK    = "ok"
	OutcomePanic = "panic"
)

// Load reads, merges, verifies and validates the configuration rooted at configPath.
// Files named in include are merged in order: rules and units append, scalars override.
func Load(configPath string) (*Config, error) {
	cfg, err := resolve(configPath)
	if err != nil {
		return nil, err
	}

	if err := verifyChecksums(cfg.SourceFiles); err != nil {
		return nil, err
	}
	if cfg.Fingerprint, err = Fingerprint(cfg.SourceFiles); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Files returns every file in the include tree of configPath, root first,
// without verifying or validating them.
func Files(configPath string) ([]string, error) {
	cfg, err := resolve(configPath)
	if err != nil {
		return nil, err
	}
	return cfg.SourceFiles, nil
}

func resolve(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourceFiles = []string{absPath}

	visited := map[string]bool{absPath: true}
	if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadIncludes merges included files depth-first. visited guards against cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(includePath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d]: %w", i, err)
		}
		cfg.SourceFiles = append(cfg.SourceFiles, absPath)
		mergeConfig(cfg, included)

		if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
			return err
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file with env interpolation.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

// mergeConfig merges src into dst, with src taking precedence for non-zero scalars.
func mergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}
	if src.Service.TrailSize != 0 {
		dst.Service.TrailSize = src.Service.TrailSize
	}
	if src.Journal.Path != "" {
		dst.Journal.Path = src.Journal.Path
	}
	if src.Policy.Default != "" {
		dst.Policy.Default = src.Policy.Default
	}
	dst.Policy.Rules = append(dst.Policy.Rules, src.Policy.Rules...)
	dst.Units = append(dst.Units, src.Units...)
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.TrailSize == 0 {
		cfg.Service.TrailSize = defaults.Service.TrailSize
	}
	for i := range cfg.Units {
		if cfg.Units[i].Repeat == 0 {
			cfg.Units[i].Repeat = 1
		}
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by Validate where it matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

var builtinUnitKinds = map[unit.Kind]bool{
	unit.KindRetryOnce:    true,
	unit.KindRetryTwice:   true,
	unit.KindLog:          true,
	unit.KindEnqueueFront: true,
}

func validStrategy(name string) bool {
	switch recovery.Name(name) {
	case recovery.NameLog, recovery.NameRetryOnce, recovery.NameRetryTwice:
		return true
	}
	return false
}

// Validate checks a loaded configuration.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.TrailSize < 0 {
		return fmt.Errorf("service.trail_size must not be negative")
	}

	if m := envVarPattern.FindStringSubmatch(cfg.Journal.Path); m != nil {
		return fmt.Errorf("journal.path: environment variable ${%s} is not set", m[1])
	}

	if cfg.Policy.Default != "" && !validStrategy(cfg.Policy.Default) {
		return fmt.Errorf("policy.default: unknown strategy %q", cfg.Policy.Default)
	}
	for i, rule := range cfg.Policy.Rules {
		if rule.Unit == "" {
			return fmt.Errorf("policy.rules[%d].unit is required", i)
		}
		if rule.Failure == "" {
			return fmt.Errorf("policy.rules[%d].failure is required", i)
		}
		if !validStrategy(rule.Strategy) {
			return fmt.Errorf("policy.rules[%d]: unknown strategy %q", i, rule.Strategy)
		}
	}

	if len(cfg.Units) == 0 {
		return ErrNoUnits
	}
	for i, u := range cfg.Units {
		if u.Kind == "" {
			return fmt.Errorf("units[%d].kind is required", i)
		}
		if builtinUnitKinds[unit.Kind(u.Kind)] {
			return fmt.Errorf("units[%d].kind %q is reserved", i, u.Kind)
		}
		if u.Repeat < 0 {
			return fmt.Errorf("units[%d].repeat must not be negative", i)
		}
		for j, outcome := range u.Outcomes {
			if outcome == "" {
				return fmt.Errorf("units[%d].outcomes[%d] is empty", i, j)
			}
		}
	}
	return nil
}
