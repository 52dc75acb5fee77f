// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/glytch/internal/eth"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :9000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// RedisURL selects the Redis session store and Redis stream events; empty runs everything in memory.
	RedisURL string `mapstructure:"REDIS_URL"`

	// RPCURL is the JSON-RPC endpoint used to read wallet nonces.
	RPCURL string `mapstructure:"RPC_URL"`
	// ChainID is part of the EIP-712 domain and must match the RPC endpoint.
	ChainID int64 `mapstructure:"CHAIN_ID"`
	// ContractAddress is the verifying contract of the EIP-712 domain.
	ContractAddress string `mapstructure:"CONTRACT_ADDRESS"`

	GitHubClientID     string `mapstructure:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `mapstructure:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURL  string `mapstructure:"GITHUB_REDIRECT_URL"`
	GitHubAPIURL       string `mapstructure:"GITHUB_API_URL"`

	// GitHubTimeout bounds one OAuth code exchange including the profile fetch.
	GitHubTimeout time.Duration `mapstructure:"GITHUB_TIMEOUT"`

	// FrontendURL is where the OAuth callback sends the browser back to.
	FrontendURL string `mapstructure:"FRONTEND_URL"`
	// SessionKeyFile is a PEM EC P-256 key signing session cookies; empty generates one per process.
	SessionKeyFile string `mapstructure:"SESSION_KEY_FILE"`
	CookieSecure   bool   `mapstructure:"COOKIE_SECURE"`

	VerificationWindow time.Duration `mapstructure:"VERIFICATION_WINDOW"`
	IdentityTTL        time.Duration `mapstructure:"IDENTITY_TTL"`
	LoginIdentityTTL   time.Duration `mapstructure:"LOGIN_IDENTITY_TTL"`

	LogDebug bool `mapstructure:"LOG_DEBUG"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	// every key needs a default so Unmarshal sees env-only values
	v.SetDefault("HTTP_ADDR", ":9000")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("RPC_URL", "")
	v.SetDefault("CHAIN_ID", 11155111)
	v.SetDefault("CONTRACT_ADDRESS", "")
	v.SetDefault("GITHUB_CLIENT_ID", "")
	v.SetDefault("GITHUB_CLIENT_SECRET", "")
	v.SetDefault("GITHUB_REDIRECT_URL", "http://localhost:9000/auth/github/callback")
	v.SetDefault("GITHUB_API_URL", "https://api.github.com")
	v.SetDefault("GITHUB_TIMEOUT", "10s")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("SESSION_KEY_FILE", "")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("VERIFICATION_WINDOW", "10m")
	v.SetDefault("IDENTITY_TTL", "10m")
	v.SetDefault("LOGIN_IDENTITY_TTL", "24h")
	v.SetDefault("LOG_DEBUG", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.HTTPAddr == "":
		return errors.New("config: HTTP_ADDR must be set")
	case c.RPCURL == "":
		return errors.New("config: RPC_URL must be set")
	case c.ChainID <= 0:
		return errors.New("config: CHAIN_ID must be positive")
	case !eth.IsAddress(c.ContractAddress):
		return errors.New("config: CONTRACT_ADDRESS must be a 0x-prefixed 20-byte address")
	case c.GitHubClientID == "" || c.GitHubClientSecret == "":
		return errors.New("config: GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set")
	case c.GitHubTimeout <= 0:
		return errors.New("config: GITHUB_TIMEOUT must be positive")
	case c.VerificationWindow <= 0:
		return errors.New("config: VERIFICATION_WINDOW must be positive")
	case c.IdentityTTL <= 0 || c.LoginIdentityTTL <= 0:
		return errors.New("config: IDENTITY_TTL and LOGIN_IDENTITY_TTL must be positive")
	}
	return nil
}

// Contract returns the verifying contract address.
func (c *Config) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}
