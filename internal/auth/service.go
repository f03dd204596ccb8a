// Package auth はGitHub OAuthによるログインフローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/shaft/internal/metrics"
)

var (
	// ErrNotOrgMember は新規ユーザーが必須組織のメンバーでないことを示す。
	ErrNotOrgMember = errors.New("user is not a member of the required organization")
	// ErrProvider はOAuthプロバイダーとの通信に失敗したことを示す。
	ErrProvider = errors.New("oauth provider request failed")
)

// externalIDPrefix は外部IDに付与するIdP識別子。
const externalIDPrefix = "github:"

// ExternalIDForLogin はGitHubのログイン名から外部IDを生成する。
func ExternalIDForLogin(login string) string {
	return externalIDPrefix + login
}

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ExternalID  string
	Login       string
	Name        string
	AccessToken string
}

// DisplayName は表示名を返す。名前が未設定の場合はログイン名を使う。
func (u *OAuthUserInfo) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Login
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
	// IsOrgMember はユーザーが組織のメンバーかを返す。
	IsOrgMember(ctx context.Context, accessToken, org string) (bool, error)
}

// IdentityStore は外部IDとユーザーの対応付け。identity.Serviceが実装する。
type IdentityStore interface {
	FindUserByExternalID(ctx context.Context, externalID string) (string, bool, error)
	FindOrCreate(ctx context.Context, externalID, displayName string) (string, bool, error)
}

// TokenStore はトークンの発行と失効。session.Serviceが実装する。
type TokenStore interface {
	CreateToken(ctx context.Context, userID string) (string, error)
	RevokeToken(ctx context.Context, token string) error
}

// LoginRecorder はログイン結果を記録する。metrics.Collectorが実装する。
type LoginRecorder interface {
	RecordLogin(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string) {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	RequiredOrg string // 新規ユーザーに要求するGitHub組織
}

// Service はログインとログアウトのビジネスロジックを提供する。
type Service struct {
	oauth      OAuthProvider
	identities IdentityStore
	tokens     TokenStore
	recorder   LoginRecorder
	config     ServiceConfig
}

// NewService はServiceを生成する。recorderがnilの場合は記録しない。
func NewService(
	oauth OAuthProvider,
	identities IdentityStore,
	tokens TokenStore,
	recorder LoginRecorder,
	config ServiceConfig,
) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		oauth:      oauth,
		identities: identities,
		tokens:     tokens,
		recorder:   recorder,
		config:     config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、新しいトークンを発行する。
// 既存ユーザーはそのままログインする。未登録ユーザーは必須組織のメンバーである場合のみ作成し、
// メンバーでない場合はErrNotOrgMemberを返す。
func (s *Service) HandleCallback(ctx context.Context, code string) (string, error) {
	token, result, err := s.handleCallback(ctx, code)
	s.recorder.RecordLogin(result)
	return token, err
}

func (s *Service) handleCallback(ctx context.Context, code string) (string, string, error) {
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return "", metrics.LoginError, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	userID, found, err := s.identities.FindUserByExternalID(ctx, info.ExternalID)
	if err != nil {
		return "", metrics.LoginError, err
	}

	result := metrics.LoginExisting
	if found {
		slog.Info("existing user logged in",
			slog.String("user_id", userID),
			slog.String("login", info.Login),
		)
	} else {
		member, err := s.oauth.IsOrgMember(ctx, info.AccessToken, s.config.RequiredOrg)
		if err != nil {
			return "", metrics.LoginError, fmt.Errorf("failed to check organization membership: %w", err)
		}
		if !member {
			slog.Warn("login rejected: not an organization member",
				slog.String("login", info.Login),
				slog.String("org", s.config.RequiredOrg),
			)
			return "", metrics.LoginNotOrgMember, ErrNotOrgMember
		}

		var created bool
		userID, created, err = s.identities.FindOrCreate(ctx, info.ExternalID, info.DisplayName())
		if err != nil {
			return "", metrics.LoginError, err
		}
		if created {
			result = metrics.LoginCreated
		}
	}

	token, err := s.tokens.CreateToken(ctx, userID)
	if err != nil {
		return "", metrics.LoginError, err
	}
	return token, result, nil
}

// Logout はトークンを失効させる。空のトークンは何もしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.tokens.RevokeToken(ctx, token); err != nil {
		return err
	}
	slog.Info("user logged out")
	return nil
}
