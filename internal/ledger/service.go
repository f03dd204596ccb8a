// Package ledger は追記専用の取引ログを提供する。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/shaft/internal/model"
	"github.com/hitoshi/shaft/internal/repository"
)

// Observer は取引追記の結果を受け取る。metrics.Collectorが実装する。
type Observer interface {
	ObserveAppend(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveAppend(error) {}

// Service は取引ログのサービス層。
type Service struct {
	transactions repository.TransactionRepository
	observer     Observer
	now          func() time.Time
}

// NewService はServiceを生成する。observerがnilの場合は計測しない。
func NewService(transactions repository.TransactionRepository, observer Observer) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Service{
		transactions: transactions,
		observer:     observer,
		now:          time.Now,
	}
}

// Append は認証済みユーザーをshafterとして取引を追記する。
// amountが正の場合はshafteeがactorに借りていることを表す。
// shafteeが存在しない場合は*model.UnknownUserErrorを返し、ログは変更されない。
func (s *Service) Append(ctx context.Context, actor *model.User, shaftee string, amount int64, reason string) (*model.Transaction, error) {
	if actor == nil {
		return nil, errors.New("actor is required")
	}

	tx := &model.Transaction{
		Shafter:    actor.ID,
		Shaftee:    shaftee,
		Amount:     amount,
		OccurredAt: model.TruncateToSecond(s.now()),
		Reason:     reason,
	}
	if err := s.AppendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// AppendTransaction は組み立て済みの取引をそのまま追記する。
// shafterは呼び出し側で認証済みであることを前提とし、検証しない。
// 金額が±model.MaxAmountを超える場合はmodel.ErrAmountOutOfRangeを返し、ストアには触れない。
func (s *Service) AppendTransaction(ctx context.Context, tx *model.Transaction) error {
	if err := model.ValidateAmount(tx.Amount); err != nil {
		s.observer.ObserveAppend(err)
		return err
	}
	tx.OccurredAt = model.TruncateToSecond(tx.OccurredAt)

	err := s.transactions.AppendTransaction(ctx, tx)
	s.observer.ObserveAppend(err)
	if err != nil {
		if model.IsUnknownUser(err) {
			return err
		}
		slog.Error("failed to append transaction",
			slog.String("shafter", tx.Shafter),
			slog.String("shaftee", tx.Shaftee),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	slog.Info("transaction appended",
		slog.Int64("id", tx.ID),
		slog.String("shafter", tx.Shafter),
		slog.String("shaftee", tx.Shaftee),
		slog.Int64("amount", tx.Amount),
	)
	return nil
}

// Recent は直近の取引を新しい順に最大limit件返す。limitが0以下の場合は空を返す。
func (s *Service) Recent(ctx context.Context, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		return []*model.Transaction{}, nil
	}

	txs, err := s.transactions.ListRecentTransactions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent transactions: %w", err)
	}
	return txs, nil
}
