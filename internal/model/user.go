package model

import "time"

// User は台帳に参加するユーザーを表す。
// Balanceは保存されず、読み出し時に取引ログから導出される。
type User struct {
	ID          string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Balance     int64  `json:"balance"`
}

// Identity は外部IdPのユーザーIDと内部ユーザーの紐付けを表す。
// 1つの外部IDに対して紐付けは高々1つ。
type Identity struct {
	ExternalID string
	UserID     string
	CreatedAt  time.Time
}

// Session はログインで発行されたアクセストークンを表す。
// 有効期限は持たず、ログアウトで削除されるまで有効。
type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
}
