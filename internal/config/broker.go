package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

const (
	// BrokerPaper fills orders against the in-memory paper account.
	BrokerPaper = "paper"
	// BrokerAlpaca routes orders to the Alpaca trading API.
	BrokerAlpaca = "alpaca"
)

// Broker selects the order venue and holds its credentials.
type Broker struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// FillTimeout bounds how long a submitted order may stay unfilled before it is canceled.
	FillTimeout time.Duration `yaml:"fill_timeout"`
}

// ApplyEnv loads .env when present and lets the environment override broker credentials.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load() // best-effort
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
	if v := os.Getenv("ALPACA_SECRET_KEY"); v != "" {
		c.Broker.APISecret = v
	}
	if v := os.Getenv("ALPACA_PAPER_URL"); v != "" {
		c.Broker.BaseURL = v
	}
}
