// Package app holds wiring shared by the server and the operator CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/config"
	"github.com/signalix/phoneauth/internal/db"
	"github.com/signalix/phoneauth/internal/events"
	"github.com/signalix/phoneauth/internal/repo"
)

// OpenCodeStore returns the code store selected by CODE_STORE. database is
// used for the postgres store. The returned close function is never nil.
func OpenCodeStore(ctx context.Context, cfg *config.Config, database *sql.DB, logger *zap.Logger) (repo.OtpRepo, func() error, error) {
	noop := func() error { return nil }

	switch cfg.CodeStore {
	case config.StoreRedis:
		rdb, err := db.OpenRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using redis code store")
		return repo.NewRedisOtpRepo(rdb), rdb.Close, nil
	case config.StoreMemory:
		logger.Warn("using in-memory code store, codes are lost on restart")
		return repo.NewMemoryOtpRepo(), noop, nil
	case config.StorePostgres:
		if database == nil {
			return nil, noop, fmt.Errorf("postgres code store needs a database connection")
		}
		logger.Info("using postgres code store")
		return repo.NewOtpRepo(database), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported CODE_STORE %q", cfg.CodeStore)
	}
}

// NewPublisher returns a Kafka publisher when brokers are configured and a
// no-op publisher otherwise.
func NewPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Nop{}
	}
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
}
