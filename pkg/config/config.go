// Package config loads supportdesk settings from a TOML file, then applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DirName is the per-user configuration directory under $HOME.
	DirName = ".supportdesk"

	// FileName is the configuration file inside DirName.
	FileName = "config.toml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SUPPORTDESK_"
)

// Duration is a time.Duration written as "10s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the complete application configuration.
type Config struct {
	Debug bool `toml:"debug"`

	Server  ServerConfig  `toml:"server"`
	OpenAI  OpenAIConfig  `toml:"openai"`
	Scrape  ScrapeConfig  `toml:"scrape"`
	Agents  AgentsConfig  `toml:"agents"`
	Session SessionConfig `toml:"session"`
	Archive ArchiveConfig `toml:"archive"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// OpenAIConfig configures the hosted model. APIKey is optional here; the
// web chat collects it per session.
type OpenAIConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

type ScrapeConfig struct {
	Timeout      Duration `toml:"timeout"`
	UserAgent    string   `toml:"user_agent"`
	MaxBodyBytes int64    `toml:"max_body_bytes"`
}

type AgentConfig struct {
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

type AgentsConfig struct {
	Support       AgentConfig `toml:"support"`
	Reviewer      AgentConfig `toml:"reviewer"`
	MaxIterations int         `toml:"max_iterations"`
}

type SessionConfig struct {
	// Website prefills the target URL of new sessions.
	Website       string `toml:"website"`
	HistoryLimit  int    `toml:"history_limit"`
	ProgressLimit int    `toml:"progress_limit"`
}

// ArchiveConfig selects the transcript store. An empty SQLitePath keeps
// transcripts in memory.
type ArchiveConfig struct {
	SQLitePath string `toml:"sqlite_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8501"},
		OpenAI: OpenAIConfig{Model: "gpt-3.5-turbo"},
		Scrape: ScrapeConfig{
			Timeout:      Duration{10 * time.Second},
			MaxBodyBytes: 8 << 20,
		},
		Agents: AgentsConfig{
			Support:       AgentConfig{Temperature: 0.5, MaxTokens: 500},
			Reviewer:      AgentConfig{Temperature: 0.5, MaxTokens: 300},
			MaxIterations: 5,
		},
		Session: SessionConfig{
			HistoryLimit:  10,
			ProgressLimit: 15,
		},
	}
}

// DefaultPath returns ~/.supportdesk/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not resolve home directory: %w", err)
	}
	return filepath.Join(home, DirName, FileName), nil
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not parse config %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in config %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	// The conventional OpenAI variable first, so the prefixed one wins.
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str(EnvPrefix+"OPENAI_API_KEY", &c.OpenAI.APIKey)
	str(EnvPrefix+"OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str(EnvPrefix+"MODEL", &c.OpenAI.Model)
	str(EnvPrefix+"LISTEN", &c.Server.ListenAddr)
	str(EnvPrefix+"WEBSITE", &c.Session.Website)
	str(EnvPrefix+"SQLITE", &c.Archive.SQLitePath)

	if v, ok := lookup(EnvPrefix + "SCRAPE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSCRAPE_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Scrape.Timeout = Duration{d}
	}

	if v, ok := lookup(EnvPrefix + "DEBUG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDEBUG: %w", EnvPrefix, err)
		}
		c.Debug = b
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Scrape.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("scrape.timeout must be positive"))
	}
	if c.Session.HistoryLimit <= 0 {
		errs = append(errs, errors.New("session.history_limit must be positive"))
	}
	if c.Session.ProgressLimit <= 0 {
		errs = append(errs, errors.New("session.progress_limit must be positive"))
	}
	if c.Agents.MaxIterations <= 0 {
		errs = append(errs, errors.New("agents.max_iterations must be positive"))
	}
	for name, a := range map[string]AgentConfig{"support": c.Agents.Support, "reviewer": c.Agents.Reviewer} {
		if a.Temperature < 0 || a.Temperature > 2 {
			errs = append(errs, fmt.Errorf("agents.%s.temperature must be within [0, 2]", name))
		}
		if a.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("agents.%s.max_tokens must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// Save writes c to path as TOML, creating the directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("could not open config %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("could not write config %s: %w", path, err)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.OpenAI.APIKey != "" {
		cp.OpenAI.APIKey = "********"
	}
	return &cp
}
