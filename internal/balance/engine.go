// Package balance は取引ログから各ユーザーの残高を導出する。
// 残高は保存せず、読み出しのたびに集計する。
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hitoshi/shaft/internal/model"
	"github.com/hitoshi/shaft/internal/repository"
)

// Engine は残高集計を行う。
type Engine struct {
	balances repository.BalanceRepository
}

// NewEngine はEngineを生成する。
func NewEngine(balances repository.BalanceRepository) *Engine {
	return &Engine{balances: balances}
}

// BalanceOf はユーザーの残高を返す。取引のないユーザーや未知のユーザーは0。
func (e *Engine) BalanceOf(ctx context.Context, userID string) (int64, error) {
	balance, err := e.balances.SumBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to compute balance: %w", err)
	}
	return balance, nil
}

// AllBalances は全ユーザーを残高の昇順（同額はユーザーID順）で返す。
// 残高の合計が0でない場合は取引ログが破損しているとみなしmodel.ErrCorruptを返す。
func (e *Engine) AllBalances(ctx context.Context) (*Roster, error) {
	users, err := e.balances.ListUserBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}

	var total int64
	for _, u := range users {
		var ok bool
		if total, ok = model.AddAmounts(total, u.Balance); !ok {
			return nil, fmt.Errorf("balance total overflows int64 at %s: %w", u.ID, model.ErrCorrupt)
		}
	}
	if total != 0 {
		slog.Error("balance total is not zero",
			slog.Int64("total", total),
			slog.Int("users", len(users)),
		)
		return nil, fmt.Errorf("balances sum to %d: %w", total, model.ErrCorrupt)
	}

	return newRoster(users), nil
}

// sortUsers は残高の昇順、同額の場合はユーザーID順に並べる。
// ストア実装ごとの並び順の差を吸収する。
func sortUsers(users []*model.User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].Balance != users[j].Balance {
			return users[i].Balance < users[j].Balance
		}
		return users[i].ID < users[j].ID
	})
}
