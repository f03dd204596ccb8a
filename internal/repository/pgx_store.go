package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hitoshi/shaft/internal/model"
)

// PgxStore はpgxのコネクションプール（pgxpool）を使用したStore実装。
// SQLとエラー分類はPostgresStoreと共通で、接続取得にタイムアウトを設定できる。
type PgxStore struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// NewPgxStore はPgxStoreを生成する。
// acquireTimeoutが0以下の場合、接続取得は呼び出し元のcontextのみで打ち切られる。
func NewPgxStore(pool *pgxpool.Pool, acquireTimeout time.Duration) *PgxStore {
	return &PgxStore{pool: pool, acquireTimeout: acquireTimeout}
}

// acquire はプールから接続を1本取得する。
// 取得待ちがacquireTimeoutを超えた場合はmodel.ErrResourceUnavailableを返す。
func (s *PgxStore) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx := ctx
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}

	conn, err := s.pool.Acquire(acquireCtx)
	if err != nil {
		return nil, classifyError("failed to acquire connection", err)
	}
	return conn, nil
}

// FindUserIDByExternalID は外部IDに紐付いたユーザーIDを返す。
func (s *PgxStore) FindUserIDByExternalID(ctx context.Context, externalID string) (string, bool, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return "", false, err
	}
	defer conn.Release()

	var userID string
	err = conn.QueryRow(ctx,
		`SELECT user_id FROM identities WHERE external_id = $1`,
		externalID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classifyError("failed to find identity", err)
	}
	return userID, true, nil
}

// FindUserByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (s *PgxStore) FindUserByID(ctx context.Context, userID string) (*model.User, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	user := &model.User{}
	err = conn.QueryRow(ctx,
		`SELECT user_id, display_name FROM users WHERE user_id = $1`,
		userID,
	).Scan(&user.ID, &user.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("failed to find user by ID", err)
	}
	return user, nil
}

// CreateUserWithIdentity はユーザーと外部ID紐付けを同一トランザクションで作成する。
func (s *PgxStore) CreateUserWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return classifyError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO users (user_id, display_name, created_at) VALUES ($1, $2, $3)`,
		user.ID, user.DisplayName, identity.CreatedAt,
	); err != nil {
		return classifyError("failed to insert user", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO identities (external_id, user_id, created_at) VALUES ($1, $2, $3)`,
		identity.ExternalID, identity.UserID, identity.CreatedAt,
	); err != nil {
		return classifyError("failed to insert identity", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyError("failed to commit transaction", err)
	}
	return nil
}

// CreateSession はトークンを保存する。
func (s *PgxStore) CreateSession(ctx context.Context, session *model.Session) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`INSERT INTO sessions (token, user_id, created_at) VALUES ($1, $2, $3)`,
		session.Token, session.UserID, session.CreatedAt,
	)
	if _, ok := foreignKeyConstraint(err); ok {
		return &model.UnknownUserError{UserID: session.UserID}
	}
	if err != nil {
		return classifyError("failed to create session", err)
	}
	return nil
}

// FindUserByToken はトークンに紐付いたユーザーを取得する。
func (s *PgxStore) FindUserByToken(ctx context.Context, token string) (*model.User, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	user := &model.User{}
	err = conn.QueryRow(ctx,
		`SELECT u.user_id, u.display_name
		 FROM sessions s
		 INNER JOIN users u ON u.user_id = s.user_id
		 WHERE s.token = $1`,
		token,
	).Scan(&user.ID, &user.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("failed to find session", err)
	}
	return user, nil
}

// DeleteSession は指定トークンを削除し、削除した場合にtrueを返す。
func (s *PgxStore) DeleteSession(ctx context.Context, token string) (bool, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	if err != nil {
		return false, classifyError("failed to delete session", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AppendTransaction はShafteeの存在確認と追記を同一トランザクションで行う。
func (s *PgxStore) AppendTransaction(ctx context.Context, t *model.Transaction) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return classifyError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var exists int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM users WHERE user_id = $1 FOR KEY SHARE`,
		t.Shaftee,
	).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.UnknownUserError{UserID: t.Shaftee}
	}
	if err != nil {
		return classifyError("failed to check shaftee", err)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO transactions (shafter, shaftee, amount, time_sec, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		t.Shafter, t.Shaftee, t.Amount, t.OccurredAt.Unix(), t.Reason,
	).Scan(&id)
	if err != nil {
		return appendError(t, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyError("failed to commit transaction", err)
	}

	t.ID = id
	return nil
}

// ListRecentTransactions は直近の取引を追記順の逆順で最大limit件返す。
func (s *PgxStore) ListRecentTransactions(ctx context.Context, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		return []*model.Transaction{}, nil
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
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

// SumBalance はユーザーの残高を返す。
func (s *PgxStore) SumBalance(ctx context.Context, userID string) (int64, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	var balance int64
	if err := conn.QueryRow(ctx, balanceOfQuery, userID).Scan(&balance); err != nil {
		return 0, classifyError("failed to sum balance", err)
	}
	return balance, nil
}

// ListUserBalances は全ユーザーを残高付きで返す。
func (s *PgxStore) ListUserBalances(ctx context.Context) ([]*model.User, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, userBalancesQuery)
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

// Ping はデータベースへの疎通を確認する。
func (s *PgxStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classifyError("failed to ping database", err)
	}
	return nil
}

// Close はコネクションプールを閉じる。
func (s *PgxStore) Close() error {
	s.pool.Close()
	return nil
}

// compile-time interface check
var _ Store = (*PgxStore)(nil)
