package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MaxAmount は1件の取引で扱える金額の絶対値の上限（ペンス、100億ポンド）。
const MaxAmount int64 = 1_000_000_000_000

// Transaction は2ユーザー間の貸し借りの記録を表す。作成後は変更されない。
// Amountは最小通貨単位（ペンス）。正ならShafterがShafteeに貸している、
// 負ならShafterがShafteeに借りている。
type Transaction struct {
	ID         int64
	Shafter    string
	Shaftee    string
	Amount     int64
	OccurredAt time.Time
	Reason     string
}

// transactionJSON はAPIレスポンス用の表現。時刻はUnix秒で返す。
type transactionJSON struct {
	Shafter  string `json:"shafter"`
	Shaftee  string `json:"shaftee"`
	Amount   int64  `json:"amount"`
	Datetime int64  `json:"datetime"`
	Reason   string `json:"reason"`
}

// MarshalJSON はjson.Marshalerを実装する。
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		Shafter:  t.Shafter,
		Shaftee:  t.Shaftee,
		Amount:   t.Amount,
		Datetime: t.OccurredAt.Unix(),
		Reason:   t.Reason,
	})
}

// TruncateToSecond は保存精度（秒、UTC）に丸めた時刻を返す。
func TruncateToSecond(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// ValidateAmount は金額が±MaxAmountの範囲にあるかを検証する。
func ValidateAmount(amount int64) error {
	if amount < -MaxAmount || amount > MaxAmount {
		return fmt.Errorf("amount %d exceeds ±%d: %w", amount, MaxAmount, ErrAmountOutOfRange)
	}
	return nil
}

// AddAmounts はオーバーフローを検出する加算。溢れた場合はokがfalse。
func AddAmounts(a, b int64) (sum int64, ok bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// SubAmounts はオーバーフローを検出する減算。溢れた場合はokがfalse。
func SubAmounts(a, b int64) (diff int64, ok bool) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, false
	}
	return a - b, true
}
