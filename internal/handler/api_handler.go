package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/shaft/internal/balance"
	"github.com/hitoshi/shaft/internal/model"
)

const (
	// maxTransactionsLimit は1回に取得できる取引の上限。
	maxTransactionsLimit = 100
	// maxShaftBodySize は取引記録リクエストボディの上限（64KB）。
	maxShaftBodySize = 64 << 10
)

// LedgerServiceInterface はAPIハンドラーが必要とする台帳サービスインターフェース。
type LedgerServiceInterface interface {
	Append(ctx context.Context, actor *model.User, shaftee string, amount int64, reason string) (*model.Transaction, error)
	Recent(ctx context.Context, limit int) ([]*model.Transaction, error)
}

// BalanceServiceInterface は残高一覧を提供するインターフェース。
type BalanceServiceInterface interface {
	AllBalances(ctx context.Context) (*balance.Roster, error)
}

// ReasonSanitizer は取引理由からマークアップを除去する。
type ReasonSanitizer interface {
	Sanitize(reason string) string
}

// APIHandlerConfig はAPIハンドラーの設定。
type APIHandlerConfig struct {
	DefaultTransactionsLimit int
}

// APIHandler は残高と取引のHTTPハンドラー。
type APIHandler struct {
	ledger    LedgerServiceInterface
	balances  BalanceServiceInterface
	sanitizer ReasonSanitizer
	validate  *validator.Validate
	config    APIHandlerConfig
}

// NewAPIHandler はAPIHandlerを生成する。
func NewAPIHandler(ledger LedgerServiceInterface, balances BalanceServiceInterface, sanitizer ReasonSanitizer, config APIHandlerConfig) *APIHandler {
	if config.DefaultTransactionsLimit <= 0 || config.DefaultTransactionsLimit > maxTransactionsLimit {
		config.DefaultTransactionsLimit = 20
	}
	return &APIHandler{
		ledger:    ledger,
		balances:  balances,
		sanitizer: sanitizer,
		validate:  newValidator(),
		config:    config,
	}
}

// shaftRequest は取引記録リクエストのボディ。
// amountは正ならリクエスト者が相手に貸している、負なら借りていることを表す。
// amountの範囲はmodel.MaxAmountと一致させる。
type shaftRequest struct {
	OtherUser string `json:"other_user" validate:"required,max=128"`
	Amount    *int64 `json:"amount" validate:"required,min=-1000000000000,max=1000000000000"`
	Reason    string `json:"reason" validate:"max=1000"`
}

// Me は認証済みユーザーの情報と残高を返す。
// GET /api/me
func (h *APIHandler) Me(w http.ResponseWriter, r *http.Request, user *model.User) {
	writeJSON(w, http.StatusOK, user)
}

// Balances は全ユーザーの残高を昇順で返す。
// GET /api/balances
func (h *APIHandler) Balances(w http.ResponseWriter, r *http.Request, user *model.User) {
	roster, err := h.balances.AllBalances(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

// Transactions は直近の取引を新しい順に返す。
// GET /api/transactions?limit=n
func (h *APIHandler) Transactions(w http.ResponseWriter, r *http.Request, user *model.User) {
	limit := h.config.DefaultTransactionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTransactionsLimit {
			handleServiceError(w, model.NewInvalidLimitError(raw))
			return
		}
		limit = n
	}

	txs, err := h.ledger.Recent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// Shaft は認証済みユーザーをShafterとして取引を記録する。
// POST /api/shaft
func (h *APIHandler) Shaft(w http.ResponseWriter, r *http.Request, user *model.User) {
	var req shaftRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxShaftBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError("malformed JSON body"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError(describeValidationError(err)))
		return
	}

	reason := h.sanitizer.Sanitize(req.Reason)
	tx, err := h.ledger.Append(r.Context(), user, strings.TrimSpace(req.OtherUser), *req.Amount, reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("shafted user",
		slog.String("user_id", user.ID),
		slog.String("other_user", tx.Shaftee),
		slog.Int64("amount", tx.Amount),
	)
	writeJSON(w, http.StatusCreated, struct{}{})
}

// newValidator はエラー中のフィールド名にJSONタグ名を使うバリデーターを生成する。
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// describeValidationError はバリデーションエラーを利用者向けの短い説明に変換する。
func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid body"
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
