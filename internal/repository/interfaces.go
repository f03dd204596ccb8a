// Package repository はデータ永続化のインターフェースと、その実装（PostgreSQL、pgx、インメモリ）を提供する。
//
// すべての書き込み操作は完全にコミットされるか、何の痕跡も残さず失敗する。
// 読み出しは常にコミット済みの一貫したスナップショットを観測する。
package repository

import (
	"context"

	"github.com/hitoshi/shaft/internal/model"
)

// UserRepository はユーザーと外部ID紐付けの永続化インターフェース。
type UserRepository interface {
	// FindUserIDByExternalID は外部IDに紐付いたユーザーIDを返す。見つからない場合はfalseを返す。
	FindUserIDByExternalID(ctx context.Context, externalID string) (string, bool, error)

	// FindUserByID は指定IDのユーザーを取得する（Balanceは設定しない）。見つからない場合はnilを返す。
	FindUserByID(ctx context.Context, userID string) (*model.User, error)

	// CreateUserWithIdentity はユーザーと外部ID紐付けを同一トランザクションで作成する。
	// 外部IDまたはユーザーIDが既に存在する場合はmodel.ErrConflictを返す。
	CreateUserWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// SessionRepository はアクセストークンの永続化インターフェース。
type SessionRepository interface {
	// CreateSession はトークンを保存する。ユーザーが存在しない場合は*model.UnknownUserErrorを返す。
	CreateSession(ctx context.Context, session *model.Session) error

	// FindUserByToken はトークンに紐付いたユーザーを取得する（Balanceは設定しない）。
	// トークンが存在しない場合はnilを返す。
	FindUserByToken(ctx context.Context, token string) (*model.User, error)

	// DeleteSession はトークンを削除し、実際に削除した場合にtrueを返す。
	// 存在しないトークンの削除はエラーにしない。
	DeleteSession(ctx context.Context, token string) (deleted bool, err error)
}

// TransactionRepository は取引ログの永続化インターフェース。追記のみを許可する。
type TransactionRepository interface {
	// AppendTransaction はShafteeの存在を確認したうえで取引を1件追記する。
	// Shafteeが存在しない場合は*model.UnknownUserErrorを返し、何も書き込まない。
	// 成功時はtx.IDに追記順の連番を設定する。
	AppendTransaction(ctx context.Context, tx *model.Transaction) error

	// ListRecentTransactions は直近に追記された取引を新しい順に最大limit件返す。
	ListRecentTransactions(ctx context.Context, limit int) ([]*model.Transaction, error)
}

// BalanceRepository は取引ログから残高を集計する読み出し専用インターフェース。
type BalanceRepository interface {
	// SumBalance はユーザーの残高（shafterとしての合計 - shafteeとしての合計）を返す。
	// 取引がないユーザーは0を返す。
	SumBalance(ctx context.Context, userID string) (int64, error)

	// ListUserBalances は全ユーザーを残高付きで返す。順序は保証しない。
	ListUserBalances(ctx context.Context) ([]*model.User, error)
}

// Store は永続化ゲートウェイ。ストレージエンジンごとに実装を持ち、
// いずれもアトミック性とエラー分類（model.ErrResourceUnavailable、model.ErrConflict、
// *model.UnknownUserError、model.ErrCorrupt）について同じ契約を満たす。
type Store interface {
	UserRepository
	SessionRepository
	TransactionRepository
	BalanceRepository

	// Ping はストレージへの疎通を確認する。
	Ping(ctx context.Context) error
	// Close は保持している接続を解放する。
	Close() error
}
