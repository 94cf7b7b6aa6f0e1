// internal/common/config/config.go
package config

import (
	"fmt"
	"time"

	"member-portal/internal/models"
)

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Tiers      []models.Tier    `mapstructure:"tiers"`
	EventLocks []string         `mapstructure:"event_locks"`
	Sponsor    SponsorConfig    `mapstructure:"sponsor"`
	Membership MembershipConfig `mapstructure:"membership"`
	Checkin    CheckinConfig    `mapstructure:"checkin"`
	Session    SessionConfig    `mapstructure:"session"`
	Database   DatabaseConfig   `mapstructure:"database"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type ChainConfig struct {
	ChainID         int64  `mapstructure:"chain_id"`
	RPCURL          string `mapstructure:"rpc_url"`
	ExplorerBaseURL string `mapstructure:"explorer_base_url"`
	SubgraphURL     string `mapstructure:"subgraph_url"`
	SubgraphAPIKey  string `mapstructure:"subgraph_api_key"`
	Erc20Token      string `mapstructure:"erc20_token"`
	RequestTimeout  int    `mapstructure:"request_timeout"` // milliseconds
}

type SponsorConfig struct {
	PrivateKey      string `mapstructure:"private_key"`
	MinBalanceWei   string `mapstructure:"min_balance_wei"`
	DailyTxCap      int64  `mapstructure:"daily_tx_cap"`
	LeaseTTL        int    `mapstructure:"lease_ttl"`        // milliseconds
	ConfirmTimeout  int    `mapstructure:"confirm_timeout"`  // milliseconds
	GasLimit        uint64 `mapstructure:"gas_limit"`
	AlertTopicARN   string `mapstructure:"alert_topic_arn"`
}

type MembershipConfig struct {
	SnapshotTTL       int `mapstructure:"snapshot_ttl"`        // milliseconds
	StaleTTL          int `mapstructure:"stale_ttl"`           // milliseconds
	LocalCacheTTL     int `mapstructure:"local_cache_ttl"`     // milliseconds
	MaxRenewMonths    int `mapstructure:"max_renew_months"`
	ApprovalCapMonths int `mapstructure:"approval_cap_months"`
	RosterTTL         int `mapstructure:"roster_ttl"` // milliseconds
}

type CheckinConfig struct {
	Secret    string `mapstructure:"secret"`
	MaxAge    int    `mapstructure:"max_age"` // milliseconds
	QRPixels  int    `mapstructure:"qr_pixels"`
	FromEmail string `mapstructure:"from_email"`
}

type SessionConfig struct {
	Secret string `mapstructure:"secret"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
	SES    struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"ses"`
	SNS struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"sns"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
