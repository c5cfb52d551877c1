package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETCORE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "MARKETCORE_DATABASE_DSN")
	setStr(&cfg.Database.Host, "MARKETCORE_DATABASE_HOST")
	setInt(&cfg.Database.Port, "MARKETCORE_DATABASE_PORT")
	setStr(&cfg.Database.Database, "MARKETCORE_DATABASE_NAME")
	setStr(&cfg.Database.User, "MARKETCORE_DATABASE_USER")
	setStr(&cfg.Database.Password, "MARKETCORE_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "MARKETCORE_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "MARKETCORE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "MARKETCORE_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "MARKETCORE_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARKETCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETCORE_REDIS_TLS_ENABLED")

	// ── Commitment ──
	setStr(&cfg.Commitment.EncryptionKey, "MARKETCORE_COMMITMENT_ENCRYPTION_KEY")
	setStr(&cfg.Commitment.Passphrase, "MARKETCORE_COMMITMENT_PASSPHRASE")
	setStr(&cfg.Commitment.KDFSalt, "MARKETCORE_COMMITMENT_KDF_SALT")

	// ── Settlement ──
	setStr(&cfg.Settlement.PayoutMultiplier, "MARKETCORE_SETTLEMENT_PAYOUT_MULTIPLIER")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "MARKETCORE_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "MARKETCORE_ORACLE_API_KEY")
	setInt(&cfg.Oracle.TimeoutSeconds, "MARKETCORE_ORACLE_TIMEOUT_SECONDS")
	setInt(&cfg.Oracle.MaxRetries, "MARKETCORE_ORACLE_MAX_RETRIES")

	// ── Mirror ──
	setBool(&cfg.Mirror.Enabled, "MARKETCORE_MIRROR_ENABLED")
	setStr(&cfg.Mirror.BaseURL, "MARKETCORE_MIRROR_BASE_URL")
	setStr(&cfg.Mirror.APIKey, "MARKETCORE_MIRROR_API_KEY")
	setInt(&cfg.Mirror.TimeoutSeconds, "MARKETCORE_MIRROR_TIMEOUT_SECONDS")
	setInt(&cfg.Mirror.MaxRetries, "MARKETCORE_MIRROR_MAX_RETRIES")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MARKETCORE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARKETCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETCORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETCORE_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "MARKETCORE_S3_FORCE_PATH_STYLE")

	// ── Resolver ──
	setInt(&cfg.Resolver.SweepIntervalSeconds, "MARKETCORE_RESOLVER_SWEEP_INTERVAL_SECONDS")
	setInt(&cfg.Resolver.ResolveIntervalSeconds, "MARKETCORE_RESOLVER_RESOLVE_INTERVAL_SECONDS")
	setInt(&cfg.Resolver.LockTTLSeconds, "MARKETCORE_RESOLVER_LOCK_TTL_SECONDS")

	setStr(&cfg.Mode, "MARKETCORE_MODE")
	setStr(&cfg.LogLevel, "MARKETCORE_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
