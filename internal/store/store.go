// Package store persists collections, packages, and ingestion attempts
// in PostgreSQL. All writes are single-statement upserts so concurrent
// workers never need explicit transactions or row locks.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/opendiscourse/legisync/pkg/errors"
	"github.com/opendiscourse/legisync/pkg/metrics"
)

// Config controls the database connection pool.
type Config struct {
	DSN             string
	MinConns        int32
	MaxConns        int32
	ConnectTimeout  time.Duration
	MaxConnLifetime time.Duration
}

// DefaultConfig returns pool settings suitable for a single ingest run.
func DefaultConfig() Config {
	return Config{
		MinConns:        5,
		MaxConns:        20,
		ConnectTimeout:  10 * time.Second,
		MaxConnLifetime: time.Hour,
	}
}

// Store is a pgxpool-backed state store for ingestion runs.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// PoolStat is a point-in-time view of database pool utilization.
type PoolStat struct {
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	TotalConns    int32 `json:"total_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// Connect opens the connection pool and verifies connectivity.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid database DSN")
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "database is not reachable")
	}

	s := &Store{
		pool:   pool,
		logger: logger.With(zap.String("component", "store")),
	}
	s.logger.Info("connected to database",
		zap.Int32("min_conns", cfg.MinConns),
		zap.Int32("max_conns", cfg.MaxConns))
	return s, nil
}

// PoolStat reports connection pool utilization and refreshes the pool gauges.
func (s *Store) PoolStat() PoolStat {
	st := s.pool.Stat()
	stat := PoolStat{
		AcquiredConns: st.AcquiredConns(),
		IdleConns:     st.IdleConns(),
		TotalConns:    st.TotalConns(),
		MaxConns:      st.MaxConns(),
	}
	metrics.SetPoolUtilization("database", float64(stat.AcquiredConns), float64(stat.MaxConns))
	return stat
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
	s.logger.Info("database pool closed")
}
