// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like SPONSOR_PRIVATE_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig() // ignore error if not found

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)
	normalizeTiers(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)
	normalizeTiers(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// Direct override if config values are still empty after expansion.
// Secrets are usually injected through the environment, not config files.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Sponsor.PrivateKey == "" {
		if val := os.Getenv("SPONSOR_PRIVATE_KEY"); val != "" {
			cfg.Sponsor.PrivateKey = val
		}
	}
	if cfg.Session.Secret == "" {
		if val := os.Getenv("SESSION_SECRET"); val != "" {
			cfg.Session.Secret = val
		}
	}
	if cfg.Checkin.Secret == "" {
		if val := os.Getenv("CHECKIN_SECRET"); val != "" {
			cfg.Checkin.Secret = val
		}
	}
	if cfg.Chain.SubgraphAPIKey == "" {
		if val := os.Getenv("SUBGRAPH_API_KEY"); val != "" {
			cfg.Chain.SubgraphAPIKey = val
		}
	}
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// normalizeTiers fills derived tier fields so downstream code never has to
// re-derive address casing.
func normalizeTiers(cfg *Config) {
	for i := range cfg.Tiers {
		if cfg.Tiers[i].ChecksumAddress == "" && common.IsHexAddress(cfg.Tiers[i].Address) {
			cfg.Tiers[i].ChecksumAddress = common.HexToAddress(cfg.Tiers[i].Address).Hex()
		}
		cfg.Tiers[i].Address = strings.ToLower(cfg.Tiers[i].Address)
	}
	for i := range cfg.EventLocks {
		cfg.EventLocks[i] = strings.ToLower(cfg.EventLocks[i])
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10000
	}

	if cfg.Chain.RequestTimeout == 0 {
		cfg.Chain.RequestTimeout = 10000
	}

	if cfg.Sponsor.LeaseTTL == 0 {
		cfg.Sponsor.LeaseTTL = 60000
	}
	if cfg.Sponsor.ConfirmTimeout == 0 {
		cfg.Sponsor.ConfirmTimeout = 90000
	}
	if cfg.Sponsor.DailyTxCap == 0 {
		cfg.Sponsor.DailyTxCap = 200
	}
	if cfg.Sponsor.GasLimit == 0 {
		cfg.Sponsor.GasLimit = 500000
	}

	if cfg.Membership.SnapshotTTL == 0 {
		cfg.Membership.SnapshotTTL = 90000
	}
	if cfg.Membership.StaleTTL == 0 {
		cfg.Membership.StaleTTL = 900000
	}
	if cfg.Membership.LocalCacheTTL == 0 {
		cfg.Membership.LocalCacheTTL = 300000
	}
	if cfg.Membership.MaxRenewMonths == 0 {
		cfg.Membership.MaxRenewMonths = 12
	}
	if cfg.Membership.ApprovalCapMonths == 0 {
		cfg.Membership.ApprovalCapMonths = 24
	}
	if cfg.Membership.RosterTTL == 0 {
		cfg.Membership.RosterTTL = 300000
	}

	if cfg.Checkin.MaxAge == 0 {
		cfg.Checkin.MaxAge = 600000
	}
	if cfg.Checkin.QRPixels == 0 {
		cfg.Checkin.QRPixels = 256
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if len(cfg.Tiers) == 0 {
		return fmt.Errorf("at least one tier must be configured")
	}
	for _, t := range cfg.Tiers {
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("tier %q has invalid address %q", t.ID, t.Address)
		}
	}
	for _, l := range cfg.EventLocks {
		if !common.IsHexAddress(l) {
			return fmt.Errorf("event lock has invalid address %q", l)
		}
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}

	if cfg.Session.Secret == "" {
		return fmt.Errorf("session.secret is required")
	}
	if cfg.Checkin.Secret == "" {
		return fmt.Errorf("checkin.secret is required")
	}

	return nil
}
