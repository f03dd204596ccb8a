package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/shaft/internal/model"
)

func seedMemoryStore(t *testing.T, ids ...string) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	for _, id := range ids {
		err := s.CreateUserWithIdentity(context.Background(),
			&model.User{ID: id, DisplayName: "name-" + id},
			&model.Identity{ExternalID: "ext-" + id, UserID: id, CreatedAt: time.Now()},
		)
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	return s
}

func TestMemoryStore_CreateUserWithIdentity_Conflict(t *testing.T) {
	s := seedMemoryStore(t, "alice")

	err := s.CreateUserWithIdentity(context.Background(),
		&model.User{ID: "other", DisplayName: "Other"},
		&model.Identity{ExternalID: "ext-alice", UserID: "other"},
	)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// 失敗した作成は痕跡を残さない
	u, err := s.FindUserByID(context.Background(), "other")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != nil {
		t.Errorf("user should not exist after conflict, got %+v", u)
	}
}

func TestMemoryStore_FindUserIDByExternalID(t *testing.T) {
	s := seedMemoryStore(t, "alice")

	id, found, err := s.FindUserIDByExternalID(context.Background(), "ext-alice")
	if err != nil || !found || id != "alice" {
		t.Fatalf("got (%q, %v, %v), want (alice, true, nil)", id, found, err)
	}

	_, found, err = s.FindUserIDByExternalID(context.Background(), "ext-nobody")
	if err != nil || found {
		t.Fatalf("got (found=%v, err=%v), want (false, nil)", found, err)
	}
}

func TestMemoryStore_Sessions(t *testing.T) {
	s := seedMemoryStore(t, "alice")
	ctx := context.Background()

	if err := s.CreateSession(ctx, &model.Session{Token: "tok", UserID: "alice"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CreateSession(ctx, &model.Session{Token: "tok2", UserID: "ghost"}); !model.IsUnknownUser(err) {
		t.Fatalf("expected UnknownUserError, got %v", err)
	}
	if err := s.CreateSession(ctx, &model.Session{Token: "tok", UserID: "alice"}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate token, got %v", err)
	}

	u, err := s.FindUserByToken(ctx, "tok")
	if err != nil || u == nil || u.ID != "alice" {
		t.Fatalf("FindUserByToken = (%+v, %v)", u, err)
	}

	if deleted, err := s.DeleteSession(ctx, "tok"); err != nil || !deleted {
		t.Fatalf("DeleteSession = (%v, %v), want (true, nil)", deleted, err)
	}
	// 2回目の削除もエラーにならないが、削除はしていない
	if deleted, err := s.DeleteSession(ctx, "tok"); err != nil || deleted {
		t.Fatalf("second DeleteSession = (%v, %v), want (false, nil)", deleted, err)
	}
	u, err = s.FindUserByToken(ctx, "tok")
	if err != nil || u != nil {
		t.Fatalf("revoked token resolved to (%+v, %v)", u, err)
	}
}

func TestMemoryStore_AppendTransaction(t *testing.T) {
	s := seedMemoryStore(t, "alice", "bob")
	ctx := context.Background()

	at := time.Date(2024, 1, 2, 3, 4, 5, 999, time.UTC)
	tx := &model.Transaction{Shafter: "alice", Shaftee: "bob", Amount: 5, OccurredAt: at, Reason: "lunch"}
	if err := s.AppendTransaction(ctx, tx); err != nil {
		t.Fatalf("AppendTransaction: %v", err)
	}
	if tx.ID != 1 {
		t.Errorf("ID = %d, want 1", tx.ID)
	}

	txs, err := s.ListRecentTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentTransactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("len = %d, want 1", len(txs))
	}
	if !txs[0].OccurredAt.Equal(at.Truncate(time.Second)) {
		t.Errorf("OccurredAt = %v, want second precision", txs[0].OccurredAt)
	}
}

func TestMemoryStore_AppendTransaction_UnknownShafteeWritesNothing(t *testing.T) {
	s := seedMemoryStore(t, "alice")
	ctx := context.Background()

	err := s.AppendTransaction(ctx, &model.Transaction{Shafter: "alice", Shaftee: "ghost", Amount: 5})
	var unknown *model.UnknownUserError
	if !errors.As(err, &unknown) || unknown.UserID != "ghost" {
		t.Fatalf("expected UnknownUserError{ghost}, got %v", err)
	}

	txs, _ := s.ListRecentTransactions(ctx, 10)
	if len(txs) != 0 {
		t.Errorf("log should be empty, got %d", len(txs))
	}
	balance, _ := s.SumBalance(ctx, "alice")
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestMemoryStore_ListRecentTransactions_NewestFirst(t *testing.T) {
	s := seedMemoryStore(t, "alice", "bob")
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		tx := &model.Transaction{Shafter: "alice", Shaftee: "bob", Amount: int64(i), Reason: fmt.Sprint(i)}
		if err := s.AppendTransaction(ctx, tx); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	txs, err := s.ListRecentTransactions(ctx, 3)
	if err != nil {
		t.Fatalf("ListRecentTransactions: %v", err)
	}
	want := []int64{5, 4, 3}
	if len(txs) != len(want) {
		t.Fatalf("len = %d, want %d", len(txs), len(want))
	}
	for i, w := range want {
		if txs[i].Amount != w {
			t.Errorf("txs[%d].Amount = %d, want %d", i, txs[i].Amount, w)
		}
	}

	empty, err := s.ListRecentTransactions(ctx, 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("limit 0 = (%v, %v), want empty", empty, err)
	}
}

func TestMemoryStore_Balances(t *testing.T) {
	s := seedMemoryStore(t, "alice", "bob", "carol")
	ctx := context.Background()

	appends := []model.Transaction{
		{Shafter: "alice", Shaftee: "bob", Amount: 5},
		{Shafter: "bob", Shaftee: "alice", Amount: 2},
		{Shafter: "carol", Shaftee: "bob", Amount: 1},
	}
	for i := range appends {
		if err := s.AppendTransaction(ctx, &appends[i]); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	wantBalances := map[string]int64{"alice": 3, "bob": -4, "carol": 1}
	for id, want := range wantBalances {
		got, err := s.SumBalance(ctx, id)
		if err != nil {
			t.Fatalf("SumBalance(%s): %v", id, err)
		}
		if got != want {
			t.Errorf("SumBalance(%s) = %d, want %d", id, got, want)
		}
	}

	users, err := s.ListUserBalances(ctx)
	if err != nil {
		t.Fatalf("ListUserBalances: %v", err)
	}
	wantOrder := []string{"bob", "carol", "alice"}
	for i, id := range wantOrder {
		if users[i].ID != id {
			t.Errorf("users[%d] = %s, want %s", i, users[i].ID, id)
		}
		if users[i].Balance != wantBalances[id] {
			t.Errorf("%s balance = %d, want %d", id, users[i].Balance, wantBalances[id])
		}
	}
}

func TestMemoryStore_ConcurrentAppendsConserveTotal(t *testing.T) {
	s := seedMemoryStore(t, "alice", "bob", "carol")
	ctx := context.Background()
	ids := []string{"alice", "bob", "carol"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := &model.Transaction{Shafter: ids[i%3], Shaftee: ids[(i+1)%3], Amount: int64(i)}
			if err := s.AppendTransaction(ctx, tx); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	users, err := s.ListUserBalances(ctx)
	if err != nil {
		t.Fatalf("ListUserBalances: %v", err)
	}
	var total int64
	for _, u := range users {
		total += u.Balance
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}

	txs, _ := s.ListRecentTransactions(ctx, 100)
	if len(txs) != 50 {
		t.Errorf("len = %d, want 50", len(txs))
	}
	seen := make(map[int64]bool)
	for _, tx := range txs {
		if seen[tx.ID] {
			t.Errorf("duplicate ID %d", tx.ID)
		}
		seen[tx.ID] = true
	}
}

func TestMemoryStore_ClosedAndCanceled(t *testing.T) {
	s := seedMemoryStore(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.FindUserByID(ctx, "alice"); !errors.Is(err, model.ErrResourceUnavailable) {
		t.Errorf("canceled context: expected ErrResourceUnavailable, got %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, model.ErrResourceUnavailable) {
		t.Errorf("closed store: expected ErrResourceUnavailable, got %v", err)
	}
}
