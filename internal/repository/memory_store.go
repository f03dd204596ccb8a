package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hitoshi/shaft/internal/model"
)

// MemoryStore はプロセス内メモリに保持するStore実装。
// テストとローカル開発用。1つのRWMutexで全データを保護し、
// 書き込みは排他ロック内で完結するため途中状態は観測されない。
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*model.User
	identities   map[string]*model.Identity // external_id -> identity
	sessions     map[string]*model.Session  // token -> session
	transactions []*model.Transaction       // 追記順
	nextID       int64
	closed       bool
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*model.User),
		identities: make(map[string]*model.Identity),
		sessions:   make(map[string]*model.Session),
		nextID:     1,
	}
}

// checkContext はcontextのキャンセルと、ストアのクローズを確認する。
// 呼び出し時にロックを保持していること。
func (s *MemoryStore) checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return classifyError("memory store", err)
	}
	if s.closed {
		return fmt.Errorf("memory store is closed: %w", model.ErrResourceUnavailable)
	}
	return nil
}

// FindUserIDByExternalID は外部IDに紐付いたユーザーIDを返す。
func (s *MemoryStore) FindUserIDByExternalID(ctx context.Context, externalID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkContext(ctx); err != nil {
		return "", false, err
	}

	identity, ok := s.identities[externalID]
	if !ok {
		return "", false, nil
	}
	return identity.UserID, true, nil
}

// FindUserByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (s *MemoryStore) FindUserByID(ctx context.Context, userID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}

	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return &model.User{ID: u.ID, DisplayName: u.DisplayName}, nil
}

// CreateUserWithIdentity はユーザーと外部ID紐付けを同時に作成する。
func (s *MemoryStore) CreateUserWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	if _, exists := s.identities[identity.ExternalID]; exists {
		return model.ErrConflict
	}
	if _, exists := s.users[user.ID]; exists {
		return model.ErrConflict
	}

	s.users[user.ID] = &model.User{ID: user.ID, DisplayName: user.DisplayName}
	linked := *identity
	s.identities[identity.ExternalID] = &linked
	return nil
}

// CreateSession はトークンを保存する。
func (s *MemoryStore) CreateSession(ctx context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	if _, ok := s.users[session.UserID]; !ok {
		return &model.UnknownUserError{UserID: session.UserID}
	}
	if _, exists := s.sessions[session.Token]; exists {
		return model.ErrConflict
	}

	stored := *session
	s.sessions[session.Token] = &stored
	return nil
}

// FindUserByToken はトークンに紐付いたユーザーを取得する。
func (s *MemoryStore) FindUserByToken(ctx context.Context, token string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}

	session, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	u, ok := s.users[session.UserID]
	if !ok {
		return nil, nil
	}
	return &model.User{ID: u.ID, DisplayName: u.DisplayName}, nil
}

// DeleteSession は指定トークンを削除する。存在しない場合もfalseで成功として扱う。
func (s *MemoryStore) DeleteSession(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkContext(ctx); err != nil {
		return false, err
	}

	if _, ok := s.sessions[token]; !ok {
		return false, nil
	}
	delete(s.sessions, token)
	return true, nil
}

// AppendTransaction はShafteeの存在を確認して取引を追記する。
func (s *MemoryStore) AppendTransaction(ctx context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	if _, ok := s.users[t.Shaftee]; !ok {
		return &model.UnknownUserError{UserID: t.Shaftee}
	}

	stored := *t
	stored.ID = s.nextID
	stored.OccurredAt = model.TruncateToSecond(t.OccurredAt)
	s.nextID++
	s.transactions = append(s.transactions, &stored)

	t.ID = stored.ID
	return nil
}

// ListRecentTransactions は直近の取引を追記順の逆順で最大limit件返す。
func (s *MemoryStore) ListRecentTransactions(ctx context.Context, limit int) ([]*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}

	if limit <= 0 {
		return []*model.Transaction{}, nil
	}
	if limit > len(s.transactions) {
		limit = len(s.transactions)
	}

	out := make([]*model.Transaction, 0, limit)
	for i := len(s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		t := *s.transactions[i]
		out = append(out, &t)
	}
	return out, nil
}

// SumBalance はユーザーの残高を返す。
func (s *MemoryStore) SumBalance(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkContext(ctx); err != nil {
		return 0, err
	}

	var balance int64
	for _, t := range s.transactions {
		var ok bool
		if t.Shafter == userID {
			if balance, ok = model.AddAmounts(balance, t.Amount); !ok {
				return 0, balanceOverflowError(userID)
			}
		}
		if t.Shaftee == userID {
			if balance, ok = model.SubAmounts(balance, t.Amount); !ok {
				return 0, balanceOverflowError(userID)
			}
		}
	}
	return balance, nil
}

// ListUserBalances は全ユーザーを残高付きで返す。
func (s *MemoryStore) ListUserBalances(ctx context.Context) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}

	balances := make(map[string]int64, len(s.users))
	for _, t := range s.transactions {
		credit, ok := model.AddAmounts(balances[t.Shafter], t.Amount)
		if !ok {
			return nil, balanceOverflowError(t.Shafter)
		}
		balances[t.Shafter] = credit
		debit, ok := model.SubAmounts(balances[t.Shaftee], t.Amount)
		if !ok {
			return nil, balanceOverflowError(t.Shaftee)
		}
		balances[t.Shaftee] = debit
	}

	users := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, &model.User{ID: u.ID, DisplayName: u.DisplayName, Balance: balances[u.ID]})
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Balance != users[j].Balance {
			return users[i].Balance < users[j].Balance
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// balanceOverflowError は残高がint64に収まらない場合のエラー。
// 取引ログが想定外の金額を含むためmodel.ErrCorruptとして扱う。
func balanceOverflowError(userID string) error {
	return fmt.Errorf("balance of %s overflows int64: %w", userID, model.ErrCorrupt)
}

// Ping はストアが利用可能かを返す。
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkContext(ctx)
}

// Close はストアを閉じる。以降の操作はmodel.ErrResourceUnavailableを返す。
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
