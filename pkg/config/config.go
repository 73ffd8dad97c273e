package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const (
	DefaultLunchFlowBaseURL = "https://www.lunchflow.app/api/v1"
	DefaultCheckingName     = "Checking"
	DefaultListenAddr       = "127.0.0.1:8323"
)

type CrewOptions struct {
	// URL of the ledger service's GraphQL endpoint.
	URL string `yaml:"url"`
	// Token is the bearer token; overridable via CREW_TOKEN.
	Token string `yaml:"token"`
}

type LunchFlowOptions struct {
	// APIKey is overridable via LUNCHFLOW_API_KEY.
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
}

// Config holds the application configuration.
type Config struct {
	DBPath     string `yaml:"dbPath"`
	ListenAddr string `yaml:"listenAddr"`
	// CheckingName is the display name of the checking sub-account that
	// funds move in and out of.
	CheckingName string           `yaml:"checkingName"`
	CacheTTL     time.Duration    `yaml:"cacheTtl"`
	Debug        bool             `yaml:"debug"`
	Crew         CrewOptions      `yaml:"crew"`
	LunchFlow    LunchFlowOptions `yaml:"lunchflow"`
}

// Load reads the YAML config at path and applies environment overrides.
// A missing file yields a default config so first-run onboarding can proceed.
func Load(path string) (*Config, error) {
	// Secrets may live in a .env next to the config; absence is fine.
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if v := os.Getenv("CREW_TOKEN"); v != "" {
		cfg.Crew.Token = v
	}
	if v := os.Getenv("LUNCHFLOW_API_KEY"); v != "" {
		cfg.LunchFlow.APIKey = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "pocketsync.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.CheckingName == "" {
		c.CheckingName = DefaultCheckingName
	}
	if c.LunchFlow.BaseURL == "" {
		c.LunchFlow.BaseURL = DefaultLunchFlowBaseURL
	}
}
