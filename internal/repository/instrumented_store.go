package repository

import (
	"context"
	"time"

	"github.com/hitoshi/shaft/internal/model"
)

// OperationObserver はストア操作のレイテンシと結果を受け取るインターフェース。
// metrics.Collectorが実装する。
type OperationObserver interface {
	ObserveStoreOperation(op string, duration time.Duration, err error)
}

// InstrumentedStore はStoreの各操作を計測するデコレータ。
type InstrumentedStore struct {
	next     Store
	observer OperationObserver
}

// NewInstrumentedStore はInstrumentedStoreを生成する。
func NewInstrumentedStore(next Store, observer OperationObserver) *InstrumentedStore {
	return &InstrumentedStore{next: next, observer: observer}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	s.observer.ObserveStoreOperation(op, time.Since(start), err)
}

func (s *InstrumentedStore) FindUserIDByExternalID(ctx context.Context, externalID string) (userID string, found bool, err error) {
	defer func(start time.Time) { s.observe("find_user_by_external_id", start, err) }(time.Now())
	return s.next.FindUserIDByExternalID(ctx, externalID)
}

func (s *InstrumentedStore) FindUserByID(ctx context.Context, userID string) (user *model.User, err error) {
	defer func(start time.Time) { s.observe("find_user_by_id", start, err) }(time.Now())
	return s.next.FindUserByID(ctx, userID)
}

func (s *InstrumentedStore) CreateUserWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) (err error) {
	defer func(start time.Time) { s.observe("create_user", start, err) }(time.Now())
	return s.next.CreateUserWithIdentity(ctx, user, identity)
}

func (s *InstrumentedStore) CreateSession(ctx context.Context, session *model.Session) (err error) {
	defer func(start time.Time) { s.observe("create_session", start, err) }(time.Now())
	return s.next.CreateSession(ctx, session)
}

func (s *InstrumentedStore) FindUserByToken(ctx context.Context, token string) (user *model.User, err error) {
	defer func(start time.Time) { s.observe("find_user_by_token", start, err) }(time.Now())
	return s.next.FindUserByToken(ctx, token)
}

func (s *InstrumentedStore) DeleteSession(ctx context.Context, token string) (deleted bool, err error) {
	defer func(start time.Time) { s.observe("delete_session", start, err) }(time.Now())
	return s.next.DeleteSession(ctx, token)
}

func (s *InstrumentedStore) AppendTransaction(ctx context.Context, t *model.Transaction) (err error) {
	defer func(start time.Time) { s.observe("append_transaction", start, err) }(time.Now())
	return s.next.AppendTransaction(ctx, t)
}

func (s *InstrumentedStore) ListRecentTransactions(ctx context.Context, limit int) (txs []*model.Transaction, err error) {
	defer func(start time.Time) { s.observe("list_recent_transactions", start, err) }(time.Now())
	return s.next.ListRecentTransactions(ctx, limit)
}

func (s *InstrumentedStore) SumBalance(ctx context.Context, userID string) (balance int64, err error) {
	defer func(start time.Time) { s.observe("sum_balance", start, err) }(time.Now())
	return s.next.SumBalance(ctx, userID)
}

func (s *InstrumentedStore) ListUserBalances(ctx context.Context) (users []*model.User, err error) {
	defer func(start time.Time) { s.observe("list_user_balances", start, err) }(time.Now())
	return s.next.ListUserBalances(ctx)
}

func (s *InstrumentedStore) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("ping", start, err) }(time.Now())
	return s.next.Ping(ctx)
}

// Close は計測せずに委譲する。
func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}

// compile-time interface check
var _ Store = (*InstrumentedStore)(nil)
