package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/shaft/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// CreateSession はトークンを保存する。
// ユーザーが存在しない場合は外部キー制約違反となり*model.UnknownUserErrorを返す。
func (r *PostgresSessionRepo) CreateSession(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, created_at)
		 VALUES ($1, $2, $3)`,
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

// FindUserByToken はトークンに紐付いたユーザーを取得する。存在しない場合はnilを返す。
func (r *PostgresSessionRepo) FindUserByToken(ctx context.Context, token string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT u.user_id, u.display_name
		 FROM sessions s
		 INNER JOIN users u ON u.user_id = s.user_id
		 WHERE s.token = $1`,
		token,
	).Scan(&user.ID, &user.DisplayName)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("failed to find session", err)
	}

	return user, nil
}

// DeleteSession は指定トークンを削除する。存在しない場合もfalseで成功として扱う。
func (r *PostgresSessionRepo) DeleteSession(ctx context.Context, token string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE token = $1`,
		token,
	)
	if err != nil {
		return false, classifyError("failed to delete session", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, classifyError("failed to read deleted rows", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
