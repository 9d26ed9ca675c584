// Package config loads pipeline tuning from an optional YAML file layered
// over built-in defaults. Secrets (API keys) never live here; they come from
// the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s".
// yaml.v3 has no native duration support.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Provider struct {
	BaseURL        string   `yaml:"base_url"`
	MaxInFlight    int      `yaml:"max_in_flight"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	Cooldown       Duration `yaml:"cooldown"`
	MaxAttempts    int      `yaml:"max_attempts"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

type Adjudicator struct {
	Model   string `yaml:"model"`
	Workers int    `yaml:"workers"`
}

type Pipeline struct {
	Workers           int      `yaml:"workers"`
	MinConfidence     int      `yaml:"min_confidence"`
	FastPathThreshold int      `yaml:"fast_path_threshold"`
	ProgressEvery     int      `yaml:"progress_every"`
	FlushInterval     Duration `yaml:"flush_interval"`
}

type Candidates struct {
	CatchAllDomains []string `yaml:"catch_all_domains"`
	CatchAllCap     int      `yaml:"catch_all_cap"`
}

type Config struct {
	Budget      int         `yaml:"budget"`
	Provider    Provider    `yaml:"provider"`
	Adjudicator Adjudicator `yaml:"adjudicator"`
	Pipeline    Pipeline    `yaml:"pipeline"`
	Candidates  Candidates  `yaml:"candidates"`
	Checkpoint  string      `yaml:"checkpoint"`
}

// Default returns the documented defaults. The confidence threshold and the
// catch-all candidate cap are tunables, not verified-correct values.
func Default() Config {
	return Config{
		Budget: 500,
		Provider: Provider{
			MaxInFlight:    4,
			RateLimitRPS:   5,
			Cooldown:       Duration(60 * time.Second),
			MaxAttempts:    3,
			RequestTimeout: Duration(20 * time.Second),
		},
		Adjudicator: Adjudicator{
			Model:   "gemini-2.0-flash",
			Workers: 16,
		},
		Pipeline: Pipeline{
			Workers:           8,
			MinConfidence:     70,
			FastPathThreshold: 90,
			ProgressEvery:     25,
			FlushInterval:     Duration(30 * time.Second),
		},
		Candidates: Candidates{
			CatchAllCap: 3,
		},
		Checkpoint: "emailfinder-checkpoint.json",
	}
}

// Load overlays the YAML file at path onto the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Budget < 0 {
		return Config{}, fmt.Errorf("budget must be >= 0 (got %d)", cfg.Budget)
	}
	return cfg, nil
}

// CatchAllSet converts the configured list into the lookup form the candidate
// generator wants.
func (c Candidates) CatchAllSet() map[string]bool {
	if len(c.CatchAllDomains) == 0 {
		return nil
	}
	out := make(map[string]bool, len(c.CatchAllDomains))
	for _, d := range c.CatchAllDomains {
		out[d] = true
	}
	return out
}
