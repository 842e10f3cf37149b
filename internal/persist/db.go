package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vcworld/vcworld/internal/config"
	"go.uber.org/zap"
)

var errNoDSN = errors.New("database dsn is empty")

// DB wraps the pgx pool that holds world snapshots.
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// PoolStats is the part of the pool state reported at startup.
type PoolStats struct {
	MaxConns   int32
	TotalConns int32
	IdleConns  int32
	Acquires   int64
}

// poolConfig maps the database section onto a pgx pool config. The idle
// floor never exceeds the pool size.
func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	if cfg.DSN == "" {
		return nil, errNoDSN
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolCfg.MinConns = int32(min(cfg.MaxIdleConns, int(poolCfg.MaxConns)))
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	return poolCfg, nil
}

func NewDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	db := &DB{Pool: pool, log: log}
	stats := db.Stats()
	log.Debug("snapshot database connected",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", stats.MaxConns),
		zap.Int32("open_conns", stats.TotalConns))
	return db, nil
}

func (db *DB) Stats() PoolStats {
	s := db.Pool.Stat()
	return PoolStats{
		MaxConns:   s.MaxConns(),
		TotalConns: s.TotalConns(),
		IdleConns:  s.IdleConns(),
		Acquires:   s.AcquireCount(),
	}
}

func (db *DB) Close() {
	db.Pool.Close()
}
