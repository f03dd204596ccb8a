package repository

import (
	"context"
	"database/sql"
)

// PostgresStore はdatabase/sql（lib/pqドライバ）を使用したStore実装。
// エンティティごとのリポジトリを束ね、同じ接続プールを共有する。
type PostgresStore struct {
	*PostgresUserRepo
	*PostgresSessionRepo
	*PostgresTransactionRepo
	*PostgresBalanceRepo

	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		PostgresUserRepo:        NewPostgresUserRepo(db),
		PostgresSessionRepo:     NewPostgresSessionRepo(db),
		PostgresTransactionRepo: NewPostgresTransactionRepo(db),
		PostgresBalanceRepo:     NewPostgresBalanceRepo(db),
		db:                      db,
	}
}

// Ping はデータベースへの疎通を確認する。
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classifyError("failed to ping database", err)
	}
	return nil
}

// Close は接続プールを閉じる。
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
