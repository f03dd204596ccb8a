package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/shaft/internal/model"
)

// balanceOfQuery はユーザー1人分の残高を集計する。
// SUM(bigint)はnumericを返すため、差を取ってからbigintにキャストしてスキャンする。
const balanceOfQuery = `SELECT ((
	SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE shafter = $1
) - (
	SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE shaftee = $1
))::BIGINT`

// userBalancesQuery は全ユーザーの残高を1文で集計する。
// 貸し(shafter)と借り(shaftee)を別々にSUMし、numericのまま差を取ってからbigintにキャストする。
// 残高がbigintに収まらない場合は22003となり、model.ErrCorruptに分類される。
// 取引がないユーザーもLEFT JOINにより残高0で含まれる。
const userBalancesQuery = `SELECT u.user_id, u.display_name,
	(COALESCE(c.credit, 0) - COALESCE(d.debit, 0))::BIGINT AS balance
FROM users u
LEFT JOIN (
	SELECT shafter AS user_id, SUM(amount) AS credit FROM transactions GROUP BY shafter
) c ON c.user_id = u.user_id
LEFT JOIN (
	SELECT shaftee AS user_id, SUM(amount) AS debit FROM transactions GROUP BY shaftee
) d ON d.user_id = u.user_id
ORDER BY balance ASC, u.user_id ASC`

// PostgresBalanceRepo は取引ログから残高を集計するPostgreSQL実装。
type PostgresBalanceRepo struct {
	db *sql.DB
}

// NewPostgresBalanceRepo はPostgresBalanceRepoを生成する。
func NewPostgresBalanceRepo(db *sql.DB) *PostgresBalanceRepo {
	return &PostgresBalanceRepo{db: db}
}

// SumBalance はユーザーの残高を返す。取引がない場合は0。
func (r *PostgresBalanceRepo) SumBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	if err := r.db.QueryRowContext(ctx, balanceOfQuery, userID).Scan(&balance); err != nil {
		return 0, classifyError("failed to sum balance", err)
	}
	return balance, nil
}

// ListUserBalances は全ユーザーを残高付きで返す。
func (r *PostgresBalanceRepo) ListUserBalances(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx, userBalancesQuery)
	if err != nil {
		return nil, classifyError("failed to list balances", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u := &model.User{}
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Balance); err != nil {
			return nil, corruptError("failed to scan balance", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("failed to iterate balances", err)
	}

	return users, nil
}

// compile-time interface check
var _ BalanceRepository = (*PostgresBalanceRepo)(nil)
