// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 永続化層が返すエラー分類。
// 呼び出し側はerrors.Is / errors.Asで判定する。コアは内部でリトライしない。
var (
	// ErrResourceUnavailable は接続を取得できない、またはストレージが障害中であることを示す。
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrConflict は既に紐付け済みの外部IDを再度紐付けようとしたことを示す。
	ErrConflict = errors.New("conflict")
	// ErrCorrupt は保存済みデータが想定する形式を満たさないことを示す。
	ErrCorrupt = errors.New("corrupt data")
	// ErrAmountOutOfRange は取引金額が±MaxAmountを超えていることを示す。
	ErrAmountOutOfRange = errors.New("amount out of range")
)

// UnknownUserError は参照されたユーザーが存在しないことを示す。
type UnknownUserError struct {
	UserID string
}

// Error はerrorインターフェースを実装する。
func (e *UnknownUserError) Error() string {
	return fmt.Sprintf("unknown user: %s", e.UserID)
}

// IsUnknownUser はerrがUnknownUserErrorを含むかを返す。
func IsUnknownUser(err error) bool {
	var u *UnknownUserError
	return errors.As(err, &u)
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, ledger, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnknownUser        = "UNKNOWN_USER"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeNotOrgMember       = "NOT_ORG_MEMBER"
	ErrCodeInvalidLimit       = "INVALID_LIMIT"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeNotFound           = "NOT_FOUND"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidLimitError は取得件数の指定が不正な場合のエラーを生成する。
func NewInvalidLimitError(limit string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLimit,
		Message:  fmt.Sprintf("無効な取得件数です: %s", limit),
		Category: "validation",
		Action:   "limitには1以上の整数を指定してください。",
	}
}

// NewUnknownUserError は取引相手が存在しない場合のエラーを生成する。
func NewUnknownUserError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownUser,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", userID),
		Category: "ledger",
		Action:   "残高一覧から取引相手のユーザーIDを確認してください。",
	}
}

// NewConflictError は外部IDが既に紐付け済みの場合のエラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "このアカウントは既に登録されています。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewServiceUnavailableError は一時的なインフラ障害のエラーを生成する。
func NewServiceUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  "一時的にサービスを利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNotOrgMemberError は必須Organizationに所属していない場合のエラーを生成する。
func NewNotOrgMemberError(org string) *APIError {
	return &APIError{
		Code:     ErrCodeNotOrgMember,
		Message:  fmt.Sprintf("Organization %s のメンバーではありません。", org),
		Category: "auth",
		Action:   "管理者にOrganizationへの招待を依頼してください。",
	}
}

// NewRateLimitedError はレート制限を超過した場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewNotFoundError は存在しないエンドポイントへのアクセスのエラーを生成する。
func NewNotFoundError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("見つかりません: %s", path),
		Category: "system",
		Action:   "URLを確認してください。",
	}
}
