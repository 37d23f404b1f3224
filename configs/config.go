// Package configs loads the engine's environment-driven configuration
// (spec §6 "Configuration (environment-driven)"), plus an optional YAML
// overlay for the handful of values that are fixed per deployment rather
// than per environment (router address, vault selection, fallback token
// table) — mirroring the teacher's config.yml-driven StrategyYAMLData
// pattern, scoped down to what this engine actually needs.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultArbitrumRPCURL          = "https://arb1.arbitrum.io/rpc"
	defaultSchedulerIntervalSecs   = 60
	defaultMaxConcurrentExecutions = 50
	defaultMCPToolTimeoutMs        = 120000
	defaultMCPConnectionTimeoutMs  = 60000
)

// Config is the engine's full runtime configuration: environment-driven
// fields per spec §6, plus the optional Deployment overlay.
type Config struct {
	DatabaseURL              string
	ArbitrumRPCURL           string
	EmberMCPServerURL        string
	PrivateKey               string
	SchedulerIntervalSeconds int
	MaxConcurrentExecutions  int
	EnableScheduler          bool
	EnableMetrics            bool
	MCPToolTimeout           time.Duration
	MCPConnectionTimeout     time.Duration

	Deployment DeploymentConfig
}

// HasSigningKey reports whether a hot key was configured. Its absence
// disables the scheduler per spec §6/§7 ("Absence disables the
// scheduler" / "Fatal startup errors... abort the process").
func (c *Config) HasSigningKey() bool {
	return c.PrivateKey != ""
}

// DeploymentConfig holds the per-deployment constants spec §6/§9 treat as
// fixed configuration rather than environment variables: the router
// address transactions are pre-approved against, the vault this
// deployment deposits into (if any), and a fallback token table to seed
// the Token Registry with ahead of its first getTokens refresh.
type DeploymentConfig struct {
	RouterAddress  string          `yaml:"routerAddress"`
	Vault          VaultConfig     `yaml:"vault"`
	FallbackTokens []FallbackToken `yaml:"fallbackTokens"`
}

// VaultConfig selects the Vault Integration adapter (spec §4.5, §9): either
// the ERC-4626 standard shape or the "simple" deposit/withdraw shape. Kind
// is empty when this deployment has no configured vault.
type VaultConfig struct {
	Kind          string `yaml:"kind"` // "erc4626" or "simple"
	Address       string `yaml:"address"`
	ToTokenSymbol string `yaml:"toTokenSymbol"`
}

// FallbackToken is one entry of the deployment's static token table, used
// to seed internal/tokenregistry before the first live getTokens refresh
// and as the fallback when getTokens fails (spec §4.7).
type FallbackToken struct {
	Symbol   string `yaml:"symbol"`
	ChainID  int64  `yaml:"chainId"`
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
	Name     string `yaml:"name"`
}

// Load reads environment-driven configuration (loading a local .env file
// first, if present — a missing file is not an error, since this is a
// dev-only convenience production simply won't have), then overlays
// deploymentPath's YAML if deploymentPath is non-empty.
func Load(deploymentPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		ArbitrumRPCURL:           envOrDefault("ARBITRUM_RPC_URL", defaultArbitrumRPCURL),
		EmberMCPServerURL:        os.Getenv("EMBER_MCP_SERVER_URL"),
		PrivateKey:               os.Getenv("PRIVATE_KEY"),
		SchedulerIntervalSeconds: envIntOrDefault("SCHEDULER_INTERVAL_SECONDS", defaultSchedulerIntervalSecs),
		MaxConcurrentExecutions:  envIntOrDefault("MAX_CONCURRENT_EXECUTIONS", defaultMaxConcurrentExecutions),
		EnableScheduler:          envBool("ENABLE_SCHEDULER"),
		EnableMetrics:            envBool("ENABLE_METRICS"),
		MCPToolTimeout:           time.Duration(envIntOrDefault("MCP_TOOL_TIMEOUT_MS", defaultMCPToolTimeoutMs)) * time.Millisecond,
		MCPConnectionTimeout:     time.Duration(envIntOrDefault("MCP_CONNECTION_TIMEOUT", defaultMCPConnectionTimeoutMs)) * time.Millisecond,
	}

	if deploymentPath != "" {
		deployment, err := loadDeployment(deploymentPath)
		if err != nil {
			return nil, err
		}
		cfg.Deployment = *deployment
	}

	return cfg, nil
}

func loadDeployment(path string) (*DeploymentConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &DeploymentConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment config: %w", err)
	}

	var deployment DeploymentConfig
	if err := yaml.Unmarshal(data, &deployment); err != nil {
		return nil, fmt.Errorf("failed to parse deployment config YAML: %w", err)
	}
	return &deployment, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return false
	}
	return v
}
