package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// OAuth2Config configures a token endpoint grant.
type OAuth2Config struct {
	Grant         string // TypeClientCredentials or TypePassword
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	Scopes        []string
	RefreshBefore time.Duration
	HTTPClient    *http.Client
}

// OAuth2 fetches and caches access tokens from a token endpoint. Concurrent
// callers that find the cache stale share one fetch.
type OAuth2 struct {
	cfg    OAuth2Config
	client *http.Client
	group  singleflight.Group

	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

// NewOAuth2 validates cfg and returns a provider.
func NewOAuth2(cfg OAuth2Config) (*OAuth2, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("property %s is required for auth type %s", PropTokenURL, cfg.Grant)
	}
	if _, err := url.ParseRequestURI(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("property %s: %w", PropTokenURL, err)
	}
	switch cfg.Grant {
	case TypeClientCredentials:
	case TypePassword:
		if cfg.Username == "" {
			return nil, fmt.Errorf("property %s is required for auth type %s", PropUsername, cfg.Grant)
		}
	default:
		return nil, fmt.Errorf("unsupported grant %q", cfg.Grant)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuth2{cfg: cfg, client: client, now: time.Now}, nil
}

// Token returns the cached token or fetches a new one.
func (p *OAuth2) Token(ctx context.Context) (string, error) {
	if token, ok := p.cached(); ok {
		return token, nil
	}
	v, err, _ := p.group.Do("token", func() (any, error) {
		if token, ok := p.cached(); ok {
			return token, nil
		}
		token, expiresIn, err := p.fetch(ctx)
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		p.token = token
		p.expiry = p.now().Add(time.Duration(expiresIn)*time.Second - p.cfg.RefreshBefore)
		p.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *OAuth2) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && p.now().Before(p.expiry) {
		return p.token, true
	}
	return "", false
}

func (p *OAuth2) fetch(ctx context.Context) (string, int, error) {
	form := url.Values{}
	form.Set("grant_type", p.cfg.Grant)
	if p.cfg.Grant == TypePassword {
		form.Set("username", p.cfg.Username)
		form.Set("password", p.cfg.Password)
	}
	if len(p.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(p.cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}
	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if body.Error != "" {
		return "", 0, fmt.Errorf("oauth2 error: %s - %s", body.Error, body.ErrorDesc)
	}
	if body.AccessToken == "" {
		return "", 0, fmt.Errorf("no access token in response")
	}
	return body.AccessToken, body.ExpiresIn, nil
}

// Close releases idle connections to the token endpoint.
func (p *OAuth2) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
