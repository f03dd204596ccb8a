// Package session はアクセストークンとユーザーの紐付けを管理する。
// トークンに有効期限はなく、明示的に失効させるまで有効。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/shaft/internal/model"
	"github.com/hitoshi/shaft/internal/repository"
)

// maxTokenAttempts はトークン衝突時に再生成する上限。
const maxTokenAttempts = 3

// BalanceReader はユーザーの現在残高を返す。balance.Engineが実装する。
type BalanceReader interface {
	BalanceOf(ctx context.Context, userID string) (int64, error)
}

// Observer はセッションの発行と失効を受け取る。metrics.Collectorが実装する。
type Observer interface {
	ObserveSessionCreated()
	ObserveSessionRevoked()
}

type nopObserver struct{}

func (nopObserver) ObserveSessionCreated() {}
func (nopObserver) ObserveSessionRevoked() {}

// Service はトークンの発行・解決・失効を行う。
type Service struct {
	sessions repository.SessionRepository
	balances BalanceReader
	observer Observer
	generate func() (string, error)
	now      func() time.Time
}

// NewService はServiceを生成する。observerがnilの場合は計測しない。
func NewService(sessions repository.SessionRepository, balances BalanceReader, observer Observer) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Service{
		sessions: sessions,
		balances: balances,
		observer: observer,
		generate: GenerateToken,
		now:      time.Now,
	}
}

// CreateToken はユーザーに新しいトークンを発行する。
// ユーザーが存在しない場合は*model.UnknownUserErrorを返す。
// 1ユーザーが複数のトークンを同時に持つことができる。
func (s *Service) CreateToken(ctx context.Context, userID string) (string, error) {
	for attempt := 1; ; attempt++ {
		token, err := s.generate()
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}

		err = s.sessions.CreateSession(ctx, &model.Session{
			Token:     token,
			UserID:    userID,
			CreatedAt: s.now().UTC(),
		})
		if err == nil {
			s.observer.ObserveSessionCreated()
			slog.Info("session created", slog.String("user_id", userID))
			return token, nil
		}
		if model.IsUnknownUser(err) {
			return "", err
		}
		if errors.Is(err, model.ErrConflict) && attempt < maxTokenAttempts {
			slog.Warn("token collision, regenerating", slog.Int("attempt", attempt))
			continue
		}
		return "", fmt.Errorf("failed to save session: %w", err)
	}
}

// ResolveToken はトークンに紐付いたユーザーを最新の残高付きで返す。
// トークンが存在しない場合はnil, nilを返す。
func (s *Service) ResolveToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}

	user, err := s.sessions.FindUserByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	if user == nil {
		return nil, nil
	}

	balance, err := s.balances.BalanceOf(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	user.Balance = balance
	return user, nil
}

// RevokeToken はトークンを失効させる。未知または失効済みのトークンでもエラーにしない。
// 失効の計測は実際に削除した場合のみ行う。
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	deleted, err := s.sessions.DeleteSession(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if deleted {
		s.observer.ObserveSessionRevoked()
	}
	return nil
}
