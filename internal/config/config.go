// Package config defines the top-level configuration for the market core
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARKETCORE_* environment
// variables.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Commitment CommitmentConfig `toml:"commitment"`
	Settlement SettlementConfig `toml:"settlement"`
	Oracle     OracleConfig     `toml:"oracle"`
	Mirror     MirrorConfig     `toml:"mirror"`
	S3         S3Config         `toml:"s3"`
	Resolver   ResolverConfig   `toml:"resolver"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// CommitmentConfig holds the server-side salt-encryption key material.
// Either a raw hex key or a passphrase plus KDF salt must be configured.
type CommitmentConfig struct {
	EncryptionKey string `toml:"encryption_key"`
	Passphrase    string `toml:"passphrase"`
	KDFSalt       string `toml:"kdf_salt"`
}

// SettlementConfig holds the platform settlement policy parameters.
type SettlementConfig struct {
	// PayoutMultiplier is the flat fee-adjusted gross multiplier applied to a
	// winning stake. 1.9 means a winner is owed 1.9x their stake, a net
	// profit of 0.9x after the platform fee.
	PayoutMultiplier string `toml:"payout_multiplier"`
}

// OracleConfig holds the oracle-consensus collaborator endpoint.
type OracleConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// MirrorConfig holds the external ledger-network mirror endpoint.
type MirrorConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// report archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ResolverConfig holds the resolver daemon's loop intervals and lock TTL.
type ResolverConfig struct {
	SweepIntervalSeconds   int `toml:"sweep_interval_seconds"`
	ResolveIntervalSeconds int `toml:"resolve_interval_seconds"`
	LockTTLSeconds         int `toml:"lock_ttl_seconds"`
}

// SweepInterval returns the closing-time sweep interval as a duration.
func (r ResolverConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalSeconds) * time.Second
}

// ResolveInterval returns the resolution poll interval as a duration.
func (r ResolverConfig) ResolveInterval() time.Duration {
	return time.Duration(r.ResolveIntervalSeconds) * time.Second
}

// LockTTL returns the per-market resolution lock TTL as a duration.
func (r ResolverConfig) LockTTL() time.Duration {
	return time.Duration(r.LockTTLSeconds) * time.Second
}

// Defaults returns a Config with sensible defaults applied. Values loaded
// from TOML and the environment are merged on top.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketcore",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Settlement: SettlementConfig{
			PayoutMultiplier: "1.9",
		},
		Oracle: OracleConfig{
			TimeoutSeconds: 10,
			MaxRetries:     3,
		},
		Mirror: MirrorConfig{
			Enabled:        true,
			TimeoutSeconds: 10,
			MaxRetries:     3,
		},
		Resolver: ResolverConfig{
			SweepIntervalSeconds:   30,
			ResolveIntervalSeconds: 60,
			LockTTLSeconds:         120,
		},
		Mode:     "resolver",
		LogLevel: "info",
	}
}

// Validate checks the configuration for missing or contradictory values.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "") {
		problems = append(problems, "database: dsn or host/database/user required")
	}
	if c.Commitment.EncryptionKey == "" && c.Commitment.Passphrase == "" {
		problems = append(problems, "commitment: encryption_key or passphrase required")
	}
	if c.Commitment.EncryptionKey == "" && c.Commitment.Passphrase != "" && c.Commitment.KDFSalt == "" {
		problems = append(problems, "commitment: kdf_salt required with passphrase")
	}
	if c.Settlement.PayoutMultiplier == "" {
		problems = append(problems, "settlement: payout_multiplier required")
	}
	if c.Oracle.BaseURL == "" {
		problems = append(problems, "oracle: base_url required")
	}
	if c.Mirror.Enabled && c.Mirror.BaseURL == "" {
		problems = append(problems, "mirror: base_url required when enabled")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		problems = append(problems, "s3: bucket required when enabled")
	}

	switch c.Mode {
	case "resolver", "sweep", "migrate":
	default:
		problems = append(problems, fmt.Sprintf("mode: unsupported mode %q", c.Mode))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
