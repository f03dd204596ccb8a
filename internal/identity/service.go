// Package identity は外部IDとローカルユーザーの対応付けを管理する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shaft/internal/model"
	"github.com/hitoshi/shaft/internal/repository"
)

// userNamespace はユーザーID導出に使う固定の名前空間。
// 変更すると既存ユーザーと同じ外部IDから別のIDが導出されるため、変更してはならない。
var userNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/hitoshi/shaft/users"))

// UserIDFor は外部IDから決定的にユーザーIDを導出する（UUID v5）。
func UserIDFor(externalID string) string {
	return uuid.NewSHA1(userNamespace, []byte(externalID)).String()
}

// Service は外部IDとユーザーの対応付けに関するサービス層。
type Service struct {
	users repository.UserRepository
	now   func() time.Time
}

// NewService はServiceを生成する。
func NewService(users repository.UserRepository) *Service {
	return &Service{users: users, now: time.Now}
}

// FindUserByExternalID は外部IDに紐付いたユーザーIDを返す。見つからない場合はfalseを返す。
func (s *Service) FindUserByExternalID(ctx context.Context, externalID string) (string, bool, error) {
	userID, found, err := s.users.FindUserIDByExternalID(ctx, externalID)
	if err != nil {
		return "", false, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	return userID, found, nil
}

// CreateUser はユーザーと外部IDの紐付けを同時に作成し、ユーザーIDを返す。
// 外部IDが既に紐付け済みの場合はmodel.ErrConflictを返す。
func (s *Service) CreateUser(ctx context.Context, externalID, displayName string) (string, error) {
	if externalID == "" {
		return "", fmt.Errorf("external ID is required")
	}

	userID := UserIDFor(externalID)
	now := s.now().UTC()

	user := &model.User{ID: userID, DisplayName: displayName}
	link := &model.Identity{ExternalID: externalID, UserID: userID, CreatedAt: now}

	if err := s.users.CreateUserWithIdentity(ctx, user, link); err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", userID),
		slog.String("external_id", externalID),
	)
	return userID, nil
}

// FindOrCreate は外部IDに紐付いたユーザーを返し、存在しなければ作成する。
// createdは新規作成した場合にtrueとなる。
// 同じ外部IDで同時に作成された場合はConflictとなるため、再検索して既存ユーザーを返す。
func (s *Service) FindOrCreate(ctx context.Context, externalID, displayName string) (userID string, created bool, err error) {
	userID, found, err := s.FindUserByExternalID(ctx, externalID)
	if err != nil {
		return "", false, err
	}
	if found {
		return userID, false, nil
	}

	userID, err = s.CreateUser(ctx, externalID, displayName)
	if err == nil {
		return userID, true, nil
	}
	if !errors.Is(err, model.ErrConflict) {
		return "", false, err
	}

	userID, found, err = s.FindUserByExternalID(ctx, externalID)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, fmt.Errorf("user for external ID %q vanished after conflict: %w", externalID, model.ErrConflict)
	}
	return userID, false, nil
}
