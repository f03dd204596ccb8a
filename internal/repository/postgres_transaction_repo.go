package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/shaft/internal/model"
)

// 外部キー制約名（migrations/000001_init.up.sql で定義）。
const (
	constraintTransactionShafter = "transactions_shafter_fkey"
	constraintTransactionShaftee = "transactions_shaftee_fkey"
)

// PostgresTransactionRepo はPostgreSQLを使用した取引ログリポジトリ。
type PostgresTransactionRepo struct {
	db *sql.DB
}

// NewPostgresTransactionRepo はPostgresTransactionRepoを生成する。
func NewPostgresTransactionRepo(db *sql.DB) *PostgresTransactionRepo {
	return &PostgresTransactionRepo{db: db}
}

// AppendTransaction はShafteeの存在確認と追記を同一トランザクションで行う。
// Shafteeの行はFOR KEY SHAREでロックし、確認から追記までの間に消えないことを保証する。
func (r *PostgresTransactionRepo) AppendTransaction(ctx context.Context, t *model.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE user_id = $1 FOR KEY SHARE`,
		t.Shaftee,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.UnknownUserError{UserID: t.Shaftee}
	}
	if err != nil {
		return classifyError("failed to check shaftee", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO transactions (shafter, shaftee, amount, time_sec, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		t.Shafter, t.Shaftee, t.Amount, t.OccurredAt.Unix(), t.Reason,
	).Scan(&id)
	if err != nil {
		return appendError(t, err)
	}

	if err := tx.Commit(); err != nil {
		return classifyError("failed to commit transaction", err)
	}

	t.ID = id
	return nil
}

// ListRecentTransactions は直近の取引を追記順の逆順で最大limit件返す。
func (r *PostgresTransactionRepo) ListRecentTransactions(ctx context.Context, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		return []*model.Transaction{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, shafter, shaftee, amount, time_sec, reason
		 FROM transactions
		 ORDER BY id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, classifyError("failed to list transactions", err)
	}
	defer rows.Close()

	transactions := make([]*model.Transaction, 0, limit)
	for rows.Next() {
		t := &model.Transaction{}
		var sec int64
		if err := rows.Scan(&t.ID, &t.Shafter, &t.Shaftee, &t.Amount, &sec, &t.Reason); err != nil {
			return nil, corruptError("failed to scan transaction", err)
		}
		t.OccurredAt = time.Unix(sec, 0).UTC()
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("failed to iterate transactions", err)
	}

	return transactions, nil
}

// appendError は取引INSERT時のエラーを分類する。
// 外部キー制約違反は違反した側のユーザーIDを持つUnknownUserErrorに変換する。
func appendError(t *model.Transaction, err error) error {
	if constraint, ok := foreignKeyConstraint(err); ok {
		if constraint == constraintTransactionShafter {
			return &model.UnknownUserError{UserID: t.Shafter}
		}
		return &model.UnknownUserError{UserID: t.Shaftee}
	}
	return classifyError("failed to insert transaction", err)
}

// compile-time interface check
var _ TransactionRepository = (*PostgresTransactionRepo)(nil)
