package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
)

type tokenServer struct {
	*httptest.Server
	requests atomic.Int32

	mu        sync.Mutex
	status    int
	expiresIn int
	lastForm  map[string]string
	lastUser  string
	lastPass  string
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK, expiresIn: 3600}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.requests.Add(1)
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		user, pass, _ := r.BasicAuth()

		ts.mu.Lock()
		ts.lastForm = map[string]string{}
		for k := range r.PostForm {
			ts.lastForm[k] = r.PostForm.Get(k)
		}
		ts.lastUser, ts.lastPass = user, pass
		status, expiresIn := ts.status, ts.expiresIn
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "token-" + string(rune('0'+n)),
			TokenType:   "Bearer",
			ExpiresIn:   expiresIn,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestFromPropertiesNone(t *testing.T) {
	p, err := FromProperties(adaptor.Properties{"timeout": "1s"})
	if err != nil || p != nil {
		t.Fatalf("FromProperties() = %v, %v; want nil, nil", p, err)
	}
}

func TestFromPropertiesErrors(t *testing.T) {
	cases := map[string]adaptor.Properties{
		"unknown type":     {PropType: "kerberos"},
		"static no token":  {PropType: TypeStatic},
		"no token url":     {PropType: TypeClientCredentials},
		"bad token url":    {PropType: TypeClientCredentials, PropTokenURL: "not a url"},
		"password no user": {PropType: TypePassword, PropTokenURL: "http://127.0.0.1/token"},
		"bad refresh":      {PropType: TypeClientCredentials, PropTokenURL: "http://127.0.0.1/token", PropRefreshBefore: "soon"},
	}
	for name, props := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromProperties(props); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestStaticHeader(t *testing.T) {
	p, err := FromProperties(adaptor.Properties{PropType: "STATIC", PropToken: "abc"})
	if err != nil {
		t.Fatalf("FromProperties() error = %v", err)
	}
	h, err := Header(context.Background(), p)
	if err != nil || h != "Bearer abc" {
		t.Fatalf("Header() = %q, %v", h, err)
	}
}

func TestClientCredentialsCachesToken(t *testing.T) {
	ts := newTokenServer(t)
	p, err := FromProperties(adaptor.Properties{
		PropType:         TypeClientCredentials,
		PropTokenURL:     ts.URL,
		PropClientID:     "client",
		PropClientSecret: "secret",
		PropScopes:       "read, write",
	})
	if err != nil {
		t.Fatalf("FromProperties() error = %v", err)
	}
	defer p.Close()

	for i := 0; i < 3; i++ {
		token, err := p.Token(context.Background())
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if token != "token-1" {
			t.Fatalf("Token() = %q, want token-1", token)
		}
	}
	if got := ts.requests.Load(); got != 1 {
		t.Fatalf("token requests = %d, want 1", got)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.lastUser != "client" || ts.lastPass != "secret" {
		t.Errorf("basic auth = %q/%q", ts.lastUser, ts.lastPass)
	}
	if ts.lastForm["grant_type"] != TypeClientCredentials || ts.lastForm["scope"] != "read write" {
		t.Errorf("form = %v", ts.lastForm)
	}
	if _, leaked := ts.lastForm["client_secret"]; leaked {
		t.Error("client secret sent in form body")
	}
}

func TestPasswordGrantSendsCredentials(t *testing.T) {
	ts := newTokenServer(t)
	p, err := NewOAuth2(OAuth2Config{
		Grant:    TypePassword,
		TokenURL: ts.URL,
		ClientID: "client",
		Username: "alice",
		Password: "pw",
	})
	if err != nil {
		t.Fatalf("NewOAuth2() error = %v", err)
	}
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.lastForm["grant_type"] != TypePassword || ts.lastForm["username"] != "alice" || ts.lastForm["password"] != "pw" {
		t.Errorf("form = %v", ts.lastForm)
	}
}

func TestTokenRefreshesAfterExpiry(t *testing.T) {
	ts := newTokenServer(t)
	p, err := NewOAuth2(OAuth2Config{Grant: TypeClientCredentials, TokenURL: ts.URL, RefreshBefore: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewOAuth2() error = %v", err)
	}
	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }

	if tok, _ := p.Token(context.Background()); tok != "token-1" {
		t.Fatalf("first token = %q", tok)
	}
	now = now.Add(3590 * time.Second)
	if tok, _ := p.Token(context.Background()); tok != "token-2" {
		t.Fatalf("token inside refresh window = %q, want token-2", tok)
	}
}

func TestConcurrentCallersShareFetch(t *testing.T) {
	ts := newTokenServer(t)
	p, err := NewOAuth2(OAuth2Config{Grant: TypeClientCredentials, TokenURL: ts.URL})
	if err != nil {
		t.Fatalf("NewOAuth2() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Token(context.Background()); err != nil {
				t.Errorf("Token() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if got := ts.requests.Load(); got != 1 {
		t.Fatalf("token requests = %d, want 1", got)
	}
}

func TestTokenEndpointFailure(t *testing.T) {
	ts := newTokenServer(t)
	ts.mu.Lock()
	ts.status = http.StatusUnauthorized
	ts.mu.Unlock()

	p, err := NewOAuth2(OAuth2Config{Grant: TypeClientCredentials, TokenURL: ts.URL})
	if err != nil {
		t.Fatalf("NewOAuth2() error = %v", err)
	}
	if _, err := Header(context.Background(), p); err == nil {
		t.Fatal("expected error for 401 token response")
	}
}
