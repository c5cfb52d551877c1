package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/boxmeout/marketcore/internal/blob/s3"
	"github.com/boxmeout/marketcore/internal/cache/redis"
	"github.com/boxmeout/marketcore/internal/commitment"
	"github.com/boxmeout/marketcore/internal/config"
	"github.com/boxmeout/marketcore/internal/domain"
	"github.com/boxmeout/marketcore/internal/mirror"
	"github.com/boxmeout/marketcore/internal/oracle"
	"github.com/boxmeout/marketcore/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	MarketStore     domain.MarketStore
	PredictionStore domain.PredictionStore
	BalanceLedger   domain.BalanceLedger
	AuditStore      domain.AuditStore
	TxRunner        domain.TxRunner

	// Caches and coordination
	MarketCache domain.MarketCache
	LockManager domain.LockManager

	// External collaborators
	Oracle   domain.OracleConsensus
	Mirror   domain.LedgerMirror
	Archiver domain.ReportArchiver

	// Crypto
	Codec *commitment.Codec
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations || cfg.Mode == "migrate" {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.MarketStore = postgres.NewMarketStore(pgClient)
	deps.PredictionStore = postgres.NewPredictionStore(pgClient)
	deps.BalanceLedger = postgres.NewBalanceStore(pgClient)
	deps.AuditStore = postgres.NewAuditStore(pgClient)
	deps.TxRunner = pgClient

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- Commitment codec ---
	codec, err := commitment.NewCodec(commitment.KeyConfig{
		RawKey:     cfg.Commitment.EncryptionKey,
		Passphrase: cfg.Commitment.Passphrase,
		KDFSalt:    cfg.Commitment.KDFSalt,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: commitment codec: %w", err)
	}
	deps.Codec = codec

	// --- Oracle consensus client ---
	deps.Oracle = oracle.NewClient(oracle.ClientConfig{
		BaseURL:    cfg.Oracle.BaseURL,
		APIKey:     cfg.Oracle.APIKey,
		Timeout:    time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Oracle.MaxRetries,
	})

	// --- Ledger mirror (optional) ---
	if cfg.Mirror.Enabled {
		deps.Mirror = mirror.NewClient(mirror.ClientConfig{
			BaseURL:    cfg.Mirror.BaseURL,
			APIKey:     cfg.Mirror.APIKey,
			Timeout:    time.Duration(cfg.Mirror.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.Mirror.MaxRetries,
		})
	} else {
		logger.Info("ledger mirror disabled")
	}

	// --- S3 settlement report archival (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3Client)
	} else {
		logger.Info("settlement report archival disabled")
	}

	return deps, cleanup, nil
}
