package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/shaft/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザー・外部ID紐付けリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindUserIDByExternalID は外部IDに紐付いたユーザーIDを返す。見つからない場合はfalseを返す。
func (r *PostgresUserRepo) FindUserIDByExternalID(ctx context.Context, externalID string) (string, bool, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM identities WHERE external_id = $1`,
		externalID,
	).Scan(&userID)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classifyError("failed to find identity", err)
	}

	return userID, true, nil
}

// FindUserByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindUserByID(ctx context.Context, userID string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, display_name FROM users WHERE user_id = $1`,
		userID,
	).Scan(&user.ID, &user.DisplayName)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("failed to find user by ID", err)
	}

	return user, nil
}

// CreateUserWithIdentity はユーザーと外部ID紐付けを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateUserWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (user_id, display_name, created_at)
		 VALUES ($1, $2, $3)`,
		user.ID, user.DisplayName, identity.CreatedAt,
	)
	if err != nil {
		return classifyError("failed to insert user", err)
	}

	// 外部IDの紐付けを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (external_id, user_id, created_at)
		 VALUES ($1, $2, $3)`,
		identity.ExternalID, identity.UserID, identity.CreatedAt,
	)
	if err != nil {
		return classifyError("failed to insert identity", err)
	}

	if err := tx.Commit(); err != nil {
		return classifyError("failed to commit transaction", err)
	}

	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
