package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gzhole/accessguard/internal/llm"
)

const (
	DefaultConfigDir  = ".accessguard"
	DefaultConfigFile = "config.yaml"
	DefaultLogFile    = "audit.jsonl"
	DefaultPacksDir   = "packs"
	DefaultScriptsDir = "scripts"
	DefaultServerAddr = "127.0.0.1:8080"
)

type Config struct {
	ConfigDir  string       `yaml:"-"`
	ConfigPath string       `yaml:"-"`
	LogPath    string       `yaml:"audit_log"`
	PacksDir   string       `yaml:"packs_dir"`
	ScriptsDir string       `yaml:"scripts_dir"`
	ServerAddr string       `yaml:"server_addr"`
	LLM        LLMConfig    `yaml:"llm"`
	Custom     CustomConfig `yaml:"custom"`
}

// LLMConfig selects the text-generation service used by "custom create".
// The API key itself is never stored in the file; APIKeyEnv names the
// environment variable that holds it.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	Endpoint          string        `yaml:"endpoint"`
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Temperature       *float64      `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// CustomConfig bounds custom detector scripts.
type CustomConfig struct {
	RunTimeout time.Duration `yaml:"run_timeout"`
	MaxAllocs  int64         `yaml:"max_allocs"`
}

var defaultKeyEnv = map[string]string{
	llm.ProviderOpenAI: "OPENAI_API_KEY",
	llm.ProviderAIPipe: "AIPIPE_TOKEN",
	llm.ProviderCustom: "ACCESSGUARD_API_KEY",
}

// Load reads the config from ~/.accessguard, creating the directory if
// needed. Empty configPath or logPath select the defaults.
func Load(configPath, logPath string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(homeDir, DefaultConfigDir), configPath, logPath)
}

// LoadFrom is Load rooted at dir. A missing config file yields defaults.
func LoadFrom(dir, configPath, logPath string) (*Config, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}

	cfg := &Config{ConfigDir: dir}
	if configPath != "" {
		cfg.ConfigPath = configPath
	} else {
		cfg.ConfigPath = filepath.Join(dir, DefaultConfigFile)
	}

	data, err := os.ReadFile(cfg.ConfigPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", cfg.ConfigPath, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", cfg.ConfigPath, err)
	}

	if logPath != "" {
		cfg.LogPath = logPath
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.ConfigDir, DefaultLogFile)
	}
	if c.PacksDir == "" {
		c.PacksDir = filepath.Join(c.ConfigDir, DefaultPacksDir)
	}
	if c.ScriptsDir == "" {
		c.ScriptsDir = filepath.Join(c.ConfigDir, DefaultScriptsDir)
	}
	if c.ServerAddr == "" {
		c.ServerAddr = DefaultServerAddr
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = llm.ProviderOpenAI
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = defaultKeyEnv[c.LLM.Provider]
	}
}

// ClientConfig resolves the generator settings, reading the API key from
// the configured environment variable.
func (c *Config) ClientConfig() llm.Config {
	return llm.Config{
		Provider:          c.LLM.Provider,
		APIKey:            os.Getenv(c.LLM.APIKeyEnv),
		Endpoint:          c.LLM.Endpoint,
		Model:             c.LLM.Model,
		Temperature:       c.LLM.Temperature,
		MaxTokens:         c.LLM.MaxTokens,
		Timeout:           c.LLM.Timeout,
		RequestsPerMinute: c.LLM.RequestsPerMinute,
	}
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
