// internal/database/db.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// ConnectDB opens a pgx pool for connStr and pings it. A nil log uses the
// logrus standard logger.
func ConnectDB(ctx context.Context, connStr string, log logrus.FieldLogger) (*pgxpool.Pool, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	log.WithFields(logrus.Fields{
		"host":     config.ConnConfig.Host,
		"port":     config.ConnConfig.Port,
		"database": config.ConnConfig.Database,
	}).Info("Connected to database")
	return pool, nil
}
