package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// redactDSN returns a copy of the DSN with the password replaced by ****.
func redactDSN(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

func isDatabaseDoesNotExist(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database") && strings.Contains(msg, "does not exist")
}

// Open connects to PostgreSQL, configures the pool and pings it.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*sql.DB, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}

	logger.Info("connecting to postgres",
		zap.String("host", host),
		zap.String("database", dbName),
		zap.String("dsn", redactDSN(databaseURL)),
	)

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		if isDatabaseDoesNotExist(err) {
			return nil, fmt.Errorf("database %q not found on host %s: %w", dbName, host, err)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
