// Package config provides configuration loading for the indexer agent.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the agent.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	GraphNode  GraphNodeConfig  `mapstructure:"graph_node"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Networks   []NetworkConfig  `mapstructure:"networks"`
}

// ServerConfig holds the management API server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds the optional monitor cache configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GraphNodeConfig holds the local graph node endpoints.
type GraphNodeConfig struct {
	AdminEndpoint  string `mapstructure:"admin_endpoint"`
	StatusEndpoint string `mapstructure:"status_endpoint"`
	QueryEndpoint  string `mapstructure:"query_endpoint"`
	// DefaultNodeID is the index node deployments are assigned to.
	DefaultNodeID string        `mapstructure:"default_node_id"`
	DeployTimeout time.Duration `mapstructure:"deploy_timeout"`
}

// ReconcilerConfig holds reconciliation loop timing.
type ReconcilerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// ActionThrottle suppresses re-queueing an action type against a
	// deployment that saw a terminal action within this window.
	ActionThrottle time.Duration `mapstructure:"action_throttle"`
	// StaleActionTimeout marks deploying/pending actions failed at
	// startup after this much silence.
	StaleActionTimeout time.Duration `mapstructure:"stale_action_timeout"`
}

// NetworkConfig holds per-protocol-network configuration.
type NetworkConfig struct {
	// Identifier is the CAIP-2 id or a known alias.
	Identifier           string `mapstructure:"identifier" validate:"required"`
	RPCEndpoint          string `mapstructure:"rpc_endpoint" validate:"required,url"`
	SubgraphEndpoint     string `mapstructure:"subgraph_endpoint" validate:"required,url"`
	StakingContract      string `mapstructure:"staking_contract" validate:"required,eth_addr"`
	EpochManagerContract string `mapstructure:"epoch_manager_contract" validate:"required,eth_addr"`
	IndexerAddress       string `mapstructure:"indexer_address" validate:"required,eth_addr"`
	Mnemonic             string `mapstructure:"mnemonic" validate:"required"`
	// DefaultAllocationAmount seeds the global rule's allocationAmount.
	DefaultAllocationAmount string `mapstructure:"default_allocation_amount" validate:"omitempty,number"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/indexer-agent")

	v.SetEnvPrefix("INDEXER_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	for i := range cfg.Networks {
		if err := validate.Struct(&cfg.Networks[i]); err != nil {
			return nil, fmt.Errorf("invalid network config %q: %w", cfg.Networks[i].Identifier, err)
		}
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "indexer")
	v.SetDefault("database.password", "indexer")
	v.SetDefault("database.database", "indexer")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("graph_node.admin_endpoint", "http://localhost:8020")
	v.SetDefault("graph_node.status_endpoint", "http://localhost:8030/graphql")
	v.SetDefault("graph_node.query_endpoint", "http://localhost:8000")
	v.SetDefault("graph_node.default_node_id", "default")
	v.SetDefault("graph_node.deploy_timeout", "120s")

	v.SetDefault("reconciler.interval", "2m")
	v.SetDefault("reconciler.action_throttle", "1h")
	v.SetDefault("reconciler.stale_action_timeout", "30m")
}
