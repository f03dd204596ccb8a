package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/hitoshi/shaft/internal/model"
)

// PostgreSQLのSQLSTATE。
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
	sqlStateNumericOutOfRange   = "22003"
)

// 接続・リソース系の障害を示すSQLSTATEクラス。
var unavailableSQLStateClasses = []string{
	"08", // connection exception
	"53", // insufficient resources
	"57", // operator intervention（admin shutdown、query canceled等）
	"58", // system error
}

// pgErrorInfo はドライバ固有のエラーからSQLSTATEと制約名を取り出す。
// lib/pqとpgxの両方に対応する。
func pgErrorInfo(err error) (code, constraint string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, true
	}
	return "", "", false
}

// isUniqueViolation は一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	code, _, ok := pgErrorInfo(err)
	return ok && code == sqlStateUniqueViolation
}

// isNumericOutOfRange は数値の範囲外エラー（残高の集計結果がbigintに収まらない等）かを判定する。
func isNumericOutOfRange(err error) bool {
	code, _, ok := pgErrorInfo(err)
	return ok && code == sqlStateNumericOutOfRange
}

// foreignKeyConstraint は外部キー制約違反の場合に制約名を返す。
func foreignKeyConstraint(err error) (string, bool) {
	code, constraint, ok := pgErrorInfo(err)
	if !ok || code != sqlStateForeignKeyViolation {
		return "", false
	}
	return constraint, true
}

// isUnavailable は接続取得の失敗、タイムアウト、ストレージ障害など
// 一時的なインフラ障害に分類すべきエラーかを判定する。
func isUnavailable(err error) bool {
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if code, _, ok := pgErrorInfo(err); ok {
		for _, class := range unavailableSQLStateClasses {
			if strings.HasPrefix(code, class) {
				return true
			}
		}
		return false
	}

	// pgxpoolのクローズ済みプール、lib/pqの接続断はメッセージでしか判別できない
	msg := err.Error()
	return strings.Contains(msg, "closed pool") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "bad connection")
}

// classifyError はドライバのエラーをmodelのエラー分類でラップして返す。
// 分類できないエラーは操作名を付けてそのまま返す。
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, model.ErrConflict, err)
	case isNumericOutOfRange(err):
		return fmt.Errorf("%s: %w: %w", op, model.ErrCorrupt, err)
	case isUnavailable(err):
		return fmt.Errorf("%s: %w: %w", op, model.ErrResourceUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// corruptError はスキャン結果が想定する形式を満たさない場合のエラーを返す。
// 接続障害によるスキャン失敗はResourceUnavailableとして扱う。
func corruptError(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrResourceUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrCorrupt, err)
}
