package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/shaft/internal/model"
	"github.com/hitoshi/shaft/internal/repository"
)

// --- モック定義 ---

type mockTransactionRepo struct {
	appendFn func(ctx context.Context, tx *model.Transaction) error
	recentFn func(ctx context.Context, limit int) ([]*model.Transaction, error)
}

func (m *mockTransactionRepo) AppendTransaction(ctx context.Context, tx *model.Transaction) error {
	if m.appendFn != nil {
		return m.appendFn(ctx, tx)
	}
	return nil
}

func (m *mockTransactionRepo) ListRecentTransactions(ctx context.Context, limit int) ([]*model.Transaction, error) {
	if m.recentFn != nil {
		return m.recentFn(ctx, limit)
	}
	return nil, nil
}

type recordingObserver struct {
	mu   sync.Mutex
	errs []error
}

func (o *recordingObserver) ObserveAppend(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

var _ repository.TransactionRepository = (*mockTransactionRepo)(nil)
var _ Observer = (*recordingObserver)(nil)

func seedUsers(t *testing.T, ids ...string) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, id := range ids {
		err := store.CreateUserWithIdentity(context.Background(),
			&model.User{ID: id, DisplayName: id},
			&model.Identity{ExternalID: "ext:" + id, UserID: id},
		)
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	return store
}

// --- テスト ---

func TestAppend_SetsShafterAndTime(t *testing.T) {
	store := seedUsers(t, "alice", "bob")
	svc := NewService(store, nil)
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 500_000_000, time.FixedZone("JST", 9*60*60))
	svc.now = func() time.Time { return fixed }

	tx, err := svc.Append(context.Background(), &model.User{ID: "alice"}, "bob", 500, "lunch")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if tx.Shafter != "alice" || tx.Shaftee != "bob" || tx.Amount != 500 || tx.Reason != "lunch" {
		t.Errorf("tx = %+v", tx)
	}
	want := time.Date(2024, 5, 5, 22, 8, 9, 0, time.UTC)
	if !tx.OccurredAt.Equal(want) || tx.OccurredAt.Location() != time.UTC {
		t.Errorf("OccurredAt = %v, want %v", tx.OccurredAt, want)
	}
	if tx.ID == 0 {
		t.Error("ID should be assigned")
	}
}

func TestAppend_NilActor(t *testing.T) {
	svc := NewService(&mockTransactionRepo{
		appendFn: func(_ context.Context, _ *model.Transaction) error {
			t.Fatal("repository should not be called")
			return nil
		},
	}, nil)

	if _, err := svc.Append(context.Background(), nil, "bob", 1, ""); err == nil {
		t.Fatal("expected error for nil actor")
	}
}

func TestAppend_UnknownShafteeLeavesLogUnchanged(t *testing.T) {
	store := seedUsers(t, "alice", "bob")
	obs := &recordingObserver{}
	svc := NewService(store, obs)
	ctx := context.Background()

	if _, err := svc.Append(ctx, &model.User{ID: "alice"}, "bob", 5, "first"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	before, _ := store.ListUserBalances(ctx)

	_, err := svc.Append(ctx, &model.User{ID: "alice"}, "ghost", 5, "nope")
	var unknown *model.UnknownUserError
	if !errors.As(err, &unknown) || unknown.UserID != "ghost" {
		t.Fatalf("expected UnknownUserError{ghost}, got %v", err)
	}

	recent, err := svc.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("recent length = %d, want 1", len(recent))
	}
	after, _ := store.ListUserBalances(ctx)
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Balance != after[i].Balance {
			t.Errorf("balances changed: before %+v, after %+v", before[i], after[i])
		}
	}

	if len(obs.errs) != 2 || obs.errs[0] != nil || !model.IsUnknownUser(obs.errs[1]) {
		t.Errorf("observed = %v", obs.errs)
	}
}

func TestRecent_ReverseAppendOrder(t *testing.T) {
	store := seedUsers(t, "alice", "bob")
	svc := NewService(store, nil)
	ctx := context.Background()

	// 同一秒内の追記でも追記順の逆順になる
	fixed := time.Unix(1700000000, 0)
	svc.now = func() time.Time { return fixed }

	var appended []*model.Transaction
	for _, reason := range []string{"T1", "T2", "T3"} {
		tx, err := svc.Append(ctx, &model.User{ID: "alice"}, "bob", 1, reason)
		if err != nil {
			t.Fatalf("Append %s: %v", reason, err)
		}
		appended = append(appended, tx)
	}

	got, err := svc.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != appended[2].ID || got[1].ID != appended[1].ID {
		t.Errorf("Recent(2) = [%s %s], want [T3 T2]", got[0].Reason, got[1].Reason)
	}
}

func TestRecent_NonPositiveLimit(t *testing.T) {
	svc := NewService(&mockTransactionRepo{
		recentFn: func(_ context.Context, _ int) ([]*model.Transaction, error) {
			t.Fatal("repository should not be called")
			return nil, nil
		},
	}, nil)

	for _, limit := range []int{0, -5} {
		got, err := svc.Recent(context.Background(), limit)
		if err != nil {
			t.Fatalf("Recent(%d): %v", limit, err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("Recent(%d) = %v, want empty slice", limit, got)
		}
	}
}

func TestAppendTransaction_WrapsInfrastructureErrors(t *testing.T) {
	obs := &recordingObserver{}
	svc := NewService(&mockTransactionRepo{
		appendFn: func(_ context.Context, _ *model.Transaction) error {
			return model.ErrResourceUnavailable
		},
	}, obs)

	err := svc.AppendTransaction(context.Background(), &model.Transaction{Shafter: "a", Shaftee: "b", Amount: 1})
	if !errors.Is(err, model.ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable, got %v", err)
	}
	if len(obs.errs) != 1 || !errors.Is(obs.errs[0], model.ErrResourceUnavailable) {
		t.Errorf("observed = %v", obs.errs)
	}
}

func TestAppendTransaction_NegativeAndZeroAmounts(t *testing.T) {
	store := seedUsers(t, "alice", "bob")
	svc := NewService(store, nil)
	ctx := context.Background()

	for _, amount := range []int64{-250, 0} {
		if _, err := svc.Append(ctx, &model.User{ID: "alice"}, "bob", amount, "adjust"); err != nil {
			t.Fatalf("Append(%d): %v", amount, err)
		}
	}

	balance, err := store.SumBalance(ctx, "bob")
	if err != nil {
		t.Fatalf("SumBalance: %v", err)
	}
	if balance != 250 {
		t.Errorf("bob balance = %d, want 250", balance)
	}
}
