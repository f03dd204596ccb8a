package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool はpgxのコネクションプールを生成する。
// pgxpool.NewWithConfigは接続を遅延確立するため、疎通確認にはPingを使用すること。
func OpenPool(ctx context.Context, databaseURL string, pool PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		cfg.MaxConns = int32(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		cfg.MinConns = int32(min(pool.MaxIdleConns, pool.MaxOpenConns))
	}
	if pool.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = pool.ConnMaxLifetime
	}

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return p, nil
}
