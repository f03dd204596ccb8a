package balance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/hitoshi/shaft/internal/identity"
	"github.com/hitoshi/shaft/internal/ledger"
	"github.com/hitoshi/shaft/internal/model"
	"github.com/hitoshi/shaft/internal/repository"
)

// --- モック定義 ---

type mockBalanceRepo struct {
	sumBalanceFn       func(ctx context.Context, userID string) (int64, error)
	listUserBalancesFn func(ctx context.Context) ([]*model.User, error)
}

func (m *mockBalanceRepo) SumBalance(ctx context.Context, userID string) (int64, error) {
	if m.sumBalanceFn != nil {
		return m.sumBalanceFn(ctx, userID)
	}
	return 0, nil
}

func (m *mockBalanceRepo) ListUserBalances(ctx context.Context) ([]*model.User, error) {
	if m.listUserBalancesFn != nil {
		return m.listUserBalancesFn(ctx)
	}
	return nil, nil
}

var _ repository.BalanceRepository = (*mockBalanceRepo)(nil)

// --- テスト ---

func TestEndToEnd_AliceAndBob(t *testing.T) {
	store := repository.NewMemoryStore()
	ids := identity.NewService(store)
	ledgerSvc := ledger.NewService(store, nil)
	engine := NewEngine(store)
	ctx := context.Background()

	alice, err := ids.CreateUser(ctx, "gh:alice", "alice")
	if err != nil {
		t.Fatalf("CreateUser alice: %v", err)
	}
	bob, err := ids.CreateUser(ctx, "gh:bob", "bob")
	if err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}

	for _, id := range []string{alice, bob} {
		b, err := engine.BalanceOf(ctx, id)
		if err != nil || b != 0 {
			t.Fatalf("initial BalanceOf(%s) = (%d, %v)", id, b, err)
		}
	}

	tx, err := ledgerSvc.Append(ctx, &model.User{ID: alice}, bob, 500, "lunch")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if b, _ := engine.BalanceOf(ctx, alice); b != 500 {
		t.Errorf("BalanceOf(alice) = %d, want 500", b)
	}
	if b, _ := engine.BalanceOf(ctx, bob); b != -500 {
		t.Errorf("BalanceOf(bob) = %d, want -500", b)
	}

	roster, err := engine.AllBalances(ctx)
	if err != nil {
		t.Fatalf("AllBalances: %v", err)
	}
	users := roster.Users()
	if len(users) != 2 || users[0].ID != bob || users[1].ID != alice {
		t.Fatalf("roster order = %v, want [bob alice]", users)
	}
	if users[0].Balance != -500 || users[1].Balance != 500 {
		t.Errorf("roster balances = [%d %d]", users[0].Balance, users[1].Balance)
	}

	recent, err := ledgerSvc.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != tx.ID || recent[0].Reason != "lunch" {
		t.Errorf("Recent(1) = %v", recent)
	}
}

func TestAllBalances_IncludesUsersWithoutTransactions(t *testing.T) {
	store := repository.NewMemoryStore()
	ids := identity.NewService(store)
	ctx := context.Background()

	carol, _ := ids.CreateUser(ctx, "gh:carol", "carol")

	roster, err := NewEngine(store).AllBalances(ctx)
	if err != nil {
		t.Fatalf("AllBalances: %v", err)
	}
	u, ok := roster.Get(carol)
	if !ok || u.Balance != 0 || u.DisplayName != "carol" {
		t.Errorf("Get(carol) = (%+v, %v)", u, ok)
	}
}

// 任意の追記列の後、全ユーザーの残高の合計は0になり、各ユーザーの残高は定義どおりになる
func TestConservation_RandomAppends(t *testing.T) {
	store := repository.NewMemoryStore()
	ids := identity.NewService(store)
	ledgerSvc := ledger.NewService(store, nil)
	engine := NewEngine(store)
	ctx := context.Background()

	var users []string
	for i := 0; i < 5; i++ {
		id, err := ids.CreateUser(ctx, fmt.Sprintf("gh:%d", i), fmt.Sprintf("user%d", i))
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		users = append(users, id)
	}

	rng := rand.New(rand.NewSource(1))
	want := make(map[string]int64)
	for i := 0; i < 200; i++ {
		shafter := users[rng.Intn(len(users))]
		shaftee := users[rng.Intn(len(users))]
		amount := rng.Int63n(2001) - 1000
		if _, err := ledgerSvc.Append(ctx, &model.User{ID: shafter}, shaftee, amount, "r"); err != nil {
			t.Fatalf("Append: %v", err)
		}
		want[shafter] += amount
		want[shaftee] -= amount
	}

	roster, err := engine.AllBalances(ctx)
	if err != nil {
		t.Fatalf("AllBalances: %v", err)
	}
	var total int64
	for _, u := range roster.Users() {
		total += u.Balance
		if u.Balance != want[u.ID] {
			t.Errorf("balance(%s) = %d, want %d", u.ID, u.Balance, want[u.ID])
		}
		single, err := engine.BalanceOf(ctx, u.ID)
		if err != nil || single != u.Balance {
			t.Errorf("BalanceOf(%s) = (%d, %v), roster says %d", u.ID, single, err, u.Balance)
		}
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
}

// 並行する追記と集計の読み出しでも、読み出した残高の合計は常に0
func TestConservation_ConcurrentAppendsAndReads(t *testing.T) {
	store := repository.NewMemoryStore()
	ids := identity.NewService(store)
	ledgerSvc := ledger.NewService(store, nil)
	engine := NewEngine(store)
	ctx := context.Background()

	a, _ := ids.CreateUser(ctx, "gh:a", "a")
	b, _ := ids.CreateUser(ctx, "gh:b", "b")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				shafter, shaftee := a, b
				if (i+j)%2 == 0 {
					shafter, shaftee = b, a
				}
				if _, err := ledgerSvc.Append(ctx, &model.User{ID: shafter}, shaftee, int64(j+1), "c"); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}(i)
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := engine.AllBalances(ctx); err != nil {
					t.Errorf("AllBalances: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	roster, err := engine.AllBalances(ctx)
	if err != nil {
		t.Fatalf("AllBalances: %v", err)
	}
	recent, _ := ledgerSvc.Recent(ctx, 1000)
	if len(recent) != 200 {
		t.Errorf("transactions = %d, want 200", len(recent))
	}
	if roster.Len() != 2 {
		t.Errorf("roster length = %d, want 2", roster.Len())
	}
}

func TestAllBalances_NonZeroTotalIsCorrupt(t *testing.T) {
	engine := NewEngine(&mockBalanceRepo{
		listUserBalancesFn: func(_ context.Context) ([]*model.User, error) {
			return []*model.User{{ID: "a", Balance: 5}, {ID: "b", Balance: -4}}, nil
		},
	})

	_, err := engine.AllBalances(context.Background())
	if !errors.Is(err, model.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestAllBalances_OrdersTiesByUserID(t *testing.T) {
	engine := NewEngine(&mockBalanceRepo{
		listUserBalancesFn: func(_ context.Context) ([]*model.User, error) {
			return []*model.User{
				{ID: "c", Balance: 0},
				{ID: "z", Balance: 3},
				{ID: "a", Balance: 0},
				{ID: "m", Balance: -3},
			}, nil
		},
	})

	roster, err := engine.AllBalances(context.Background())
	if err != nil {
		t.Fatalf("AllBalances: %v", err)
	}
	var got []string
	for _, u := range roster.Users() {
		got = append(got, u.ID)
	}
	want := []string{"m", "a", "c", "z"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestBalanceOf_PropagatesUnavailable(t *testing.T) {
	engine := NewEngine(&mockBalanceRepo{
		sumBalanceFn: func(_ context.Context, _ string) (int64, error) {
			return 0, model.ErrResourceUnavailable
		},
	})

	if _, err := engine.BalanceOf(context.Background(), "a"); !errors.Is(err, model.ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable, got %v", err)
	}
}

func TestRoster_MarshalJSONKeepsOrder(t *testing.T) {
	roster := newRoster([]*model.User{
		{ID: "alice", DisplayName: "Alice", Balance: 500},
		{ID: "bob", DisplayName: "Bob", Balance: -500},
	})

	data, err := json.Marshal(roster)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"bob":{"user_id":"bob","display_name":"Bob","balance":-500},"alice":{"user_id":"alice","display_name":"Alice","balance":500}}`
	if string(data) != want {
		t.Errorf("json = %s\nwant   %s", data, want)
	}

	empty, err := json.Marshal(newRoster(nil))
	if err != nil || string(empty) != "{}" {
		t.Errorf("empty roster = (%s, %v)", empty, err)
	}
}

// newAliceAndBob はMemoryStoreにaliceとbobを作成する。
func newAliceAndBob(t *testing.T, store *repository.MemoryStore) (alice, bob string) {
	t.Helper()
	ids := identity.NewService(store)
	ctx := context.Background()
	var err error
	if alice, err = ids.CreateUser(ctx, "gh:alice", "alice"); err != nil {
		t.Fatalf("CreateUser alice: %v", err)
	}
	if bob, err = ids.CreateUser(ctx, "gh:bob", "bob"); err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}
	return alice, bob
}

func TestLedger_AmountLimits(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		wantErr bool
	}{
		{"上限ちょうど", model.MaxAmount, false},
		{"下限ちょうど", -model.MaxAmount, false},
		{"上限超過", model.MaxAmount + 1, true},
		{"下限超過", -model.MaxAmount - 1, true},
		{"MaxInt64", math.MaxInt64, true},
		{"MinInt64", math.MinInt64, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryStore()
			alice, bob := newAliceAndBob(t, store)
			ledgerSvc := ledger.NewService(store, nil)
			engine := NewEngine(store)
			ctx := context.Background()

			_, err := ledgerSvc.Append(ctx, &model.User{ID: alice}, bob, tt.amount, "")
			if tt.wantErr {
				if !errors.Is(err, model.ErrAmountOutOfRange) {
					t.Fatalf("Append error = %v, want ErrAmountOutOfRange", err)
				}
				if txs, _ := ledgerSvc.Recent(ctx, 10); len(txs) != 0 {
					t.Errorf("ledger changed: %d transactions", len(txs))
				}
				return
			}
			if err != nil {
				t.Fatalf("Append returned error: %v", err)
			}

			roster, err := engine.AllBalances(ctx)
			if err != nil {
				t.Fatalf("AllBalances returned error: %v", err)
			}
			a, _ := roster.Get(alice)
			b, _ := roster.Get(bob)
			if a.Balance != tt.amount || b.Balance != -tt.amount {
				t.Errorf("balances = (%d, %d), want (%d, %d)", a.Balance, b.Balance, tt.amount, -tt.amount)
			}
		})
	}
}

// ストアに直接書き込まれた極端な金額は、残高を巻き戻さずmodel.ErrCorruptとして報告する。
func TestBalances_Int64OverflowIsCorrupt(t *testing.T) {
	tests := []struct {
		name          string
		amounts       []int64
		wantAlice     int64
		aliceCorrupt  bool
		wantBob       int64
		bobCorrupt    bool
		rosterCorrupt bool
	}{
		{
			name:      "MaxInt64は収まる",
			amounts:   []int64{math.MaxInt64},
			wantAlice: math.MaxInt64,
			wantBob:   -math.MaxInt64,
		},
		{
			name:          "MaxInt64に1を足すと溢れる",
			amounts:       []int64{math.MaxInt64, 1},
			aliceCorrupt:  true,
			wantBob:       math.MinInt64,
			rosterCorrupt: true,
		},
		{
			name:          "MinInt64の符号反転は溢れる",
			amounts:       []int64{math.MinInt64},
			wantAlice:     math.MinInt64,
			bobCorrupt:    true,
			rosterCorrupt: true,
		},
		{
			name:          "上限額の累積で溢れる",
			amounts:       []int64{math.MaxInt64 / 2, math.MaxInt64 / 2, 2},
			aliceCorrupt:  true,
			wantBob:       math.MinInt64,
			rosterCorrupt: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryStore()
			alice, bob := newAliceAndBob(t, store)
			engine := NewEngine(store)
			ctx := context.Background()

			for _, amount := range tt.amounts {
				tx := &model.Transaction{Shafter: alice, Shaftee: bob, Amount: amount}
				if err := store.AppendTransaction(ctx, tx); err != nil {
					t.Fatalf("AppendTransaction(%d): %v", amount, err)
				}
			}

			check := func(who string, id string, want int64, wantCorrupt bool) {
				got, err := engine.BalanceOf(ctx, id)
				if wantCorrupt {
					if !errors.Is(err, model.ErrCorrupt) {
						t.Errorf("BalanceOf(%s) = (%d, %v), want ErrCorrupt", who, got, err)
					}
					return
				}
				if err != nil || got != want {
					t.Errorf("BalanceOf(%s) = (%d, %v), want %d", who, got, err, want)
				}
			}
			check("alice", alice, tt.wantAlice, tt.aliceCorrupt)
			check("bob", bob, tt.wantBob, tt.bobCorrupt)

			_, err := engine.AllBalances(ctx)
			if got := errors.Is(err, model.ErrCorrupt); got != tt.rosterCorrupt {
				t.Errorf("AllBalances error = %v, want corrupt=%v", err, tt.rosterCorrupt)
			}
		})
	}
}

func TestAllBalances_TotalOverflowIsCorrupt(t *testing.T) {
	engine := NewEngine(&mockBalanceRepo{
		listUserBalancesFn: func(_ context.Context) ([]*model.User, error) {
			return []*model.User{
				{ID: "a", Balance: math.MaxInt64},
				{ID: "b", Balance: 1},
				{ID: "c", Balance: math.MinInt64},
			}, nil
		},
	})

	if _, err := engine.AllBalances(context.Background()); !errors.Is(err, model.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}
