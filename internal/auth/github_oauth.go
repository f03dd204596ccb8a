package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/shaft/internal/security"
)

const (
	defaultGitHubAuthURL  = "https://github.com/login/oauth/authorize"
	defaultGitHubTokenURL = "https://github.com/login/oauth/access_token"
	defaultGitHubAPIURL   = "https://api.github.com"

	githubUserAgent = "shaft"
	githubTimeout   = 10 * time.Second

	// maxGitHubResponseSize はGitHub APIレスポンスの読み込み上限（1MB）。
	maxGitHubResponseSize = 1 << 20
)

// GitHubOAuthConfig はGitHub OAuthプロバイダーの設定。
type GitHubOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	APIURL   string

	// HTTPClient が未指定の場合はSSRF対策済みのクライアントを使う。
	HTTPClient *http.Client
}

// GitHubOAuthProvider はGitHub OAuthによる認証と組織メンバーシップの確認を提供する。
type GitHubOAuthProvider struct {
	config GitHubOAuthConfig
	client *http.Client
}

// NewGitHubOAuthProvider はGitHubOAuthProviderを生成する。
func NewGitHubOAuthProvider(config GitHubOAuthConfig) *GitHubOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGitHubAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGitHubTokenURL
	}
	if config.APIURL == "" {
		config.APIURL = defaultGitHubAPIURL
	}
	config.APIURL = strings.TrimRight(config.APIURL, "/")

	client := config.HTTPClient
	if client == nil {
		client = security.NewOutboundClient(githubTimeout)
	}
	return &GitHubOAuthProvider{config: config, client: client}
}

// GetLoginURL はGitHubの認可URLを生成する。組織メンバーシップ確認のためread:orgを要求する。
func (p *GitHubOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":    {p.config.ClientID},
		"redirect_uri": {p.config.RedirectURL},
		"scope":        {"read:org"},
		"state":        {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// githubTokenResponse はトークンエンドポイントのレスポンス。
// GitHubはコードが不正な場合も200でerrorフィールドを返す。
type githubTokenResponse struct {
	AccessToken      string `json:"access_token"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// githubUser は/userのレスポンス。
type githubUser struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

// githubMembership は/user/memberships/orgs/{org}のレスポンス。
type githubMembership struct {
	State string `json:"state"`
	Role  string `json:"role"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *GitHubOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	accessToken, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w: %w", ErrProvider, err)
	}

	var user githubUser
	status, err := p.getJSON(ctx, accessToken, p.config.APIURL+"/user", &user)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w: %w", ErrProvider, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("user fetch failed with status %d: %w", status, ErrProvider)
	}
	if user.Login == "" {
		return nil, fmt.Errorf("empty login in user response: %w", ErrProvider)
	}

	return &OAuthUserInfo{
		ExternalID:  ExternalIDForLogin(user.Login),
		Login:       user.Login,
		Name:        user.Name,
		AccessToken: accessToken,
	}, nil
}

// IsOrgMember はアクセストークンのユーザーが組織のメンバーかを返す。
// GitHubは非メンバーに対して403または404を返す。
func (p *GitHubOAuthProvider) IsOrgMember(ctx context.Context, accessToken, org string) (bool, error) {
	endpoint := p.config.APIURL + "/user/memberships/orgs/" + url.PathEscape(org)

	var membership githubMembership
	status, err := p.getJSON(ctx, accessToken, endpoint, &membership)
	if err != nil {
		return false, fmt.Errorf("failed to fetch membership: %w: %w", ErrProvider, err)
	}

	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusForbidden, http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("membership fetch failed with status %d: %w", status, ErrProvider)
	}
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *GitHubOAuthProvider) exchangeToken(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {p.config.RedirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", githubUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGitHubResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange failed with status %d", resp.StatusCode)
	}

	var tokenResp githubTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.Error != "" {
		return "", fmt.Errorf("token exchange rejected: %s: %s", tokenResp.Error, tokenResp.ErrorDescription)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}

	return tokenResp.AccessToken, nil
}

// getJSON はアクセストークン付きでGETし、200の場合のみボディをoutにデコードする。
func (p *GitHubOAuthProvider) getJSON(ctx context.Context, accessToken, endpoint string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", githubUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxGitHubResponseSize))
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxGitHubResponseSize)).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.StatusCode, nil
}

// compile-time interface check
var _ OAuthProvider = (*GitHubOAuthProvider)(nil)
