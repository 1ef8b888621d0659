package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type tokenServer struct {
	*httptest.Server
	exchanges atomic.Int32
}

func newTokenServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, n int32)) *tokenServer {
	t.Helper()

	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.exchanges.Add(1)
		handler(w, r, n)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func grantHandler(expiresIn int) func(w http.ResponseWriter, r *http.Request, n int32) {
	return func(w http.ResponseWriter, r *http.Request, n int32) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "client_credentials" ||
			r.PostForm.Get("client_id") != "key" ||
			r.PostForm.Get("client_secret") != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid_client"}`)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if expiresIn > 0 {
			fmt.Fprintf(w, `{"token_type":"Bearer","expires_in":%d,"access_token":"token-%d"}`, expiresIn, n)
			return
		}
		fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"token-%d"}`, n)
	}
}

func newTestProvider(t *testing.T, url, id, secret string) *Provider {
	t.Helper()

	p, err := NewProvider(Config{TokenURL: url, ClientID: id, ClientSecret: secret})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p
}

func TestNewProvider_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{TokenURL: "http://x/token", ClientID: "a", ClientSecret: "b"}},
		{name: "missing token url", cfg: Config{ClientID: "a", ClientSecret: "b"}, wantErr: true},
		{name: "missing client id", cfg: Config{TokenURL: "http://x/token", ClientSecret: "b"}, wantErr: true},
		{name: "missing secret", cfg: Config{TokenURL: "http://x/token", ClientID: "a"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.margin != DefaultSafetyMargin {
				t.Errorf("margin = %v, want %v", p.margin, DefaultSafetyMargin)
			}
		})
	}
}

func TestAcquire_CachesCredential(t *testing.T) {
	ts := newTokenServer(t, grantHandler(3600))
	p := newTestProvider(t, ts.URL, "key", "secret")
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	second, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if first.AccessToken != "token-1" || second.AccessToken != "token-1" {
		t.Errorf("tokens = %q, %q, want token-1 twice", first.AccessToken, second.AccessToken)
	}
	if got := ts.exchanges.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1", got)
	}
}

func TestAcquire_RefreshesInsideSafetyMargin(t *testing.T) {
	// Lifetime shorter than the 60s margin: every Acquire must re-exchange.
	ts := newTokenServer(t, grantHandler(30))
	p := newTestProvider(t, ts.URL, "key", "secret")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	if got := ts.exchanges.Load(); got != 3 {
		t.Errorf("exchanges = %d, want 3", got)
	}
}

func TestAcquire_ClockAdvance(t *testing.T) {
	ts := newTokenServer(t, grantHandler(3600))
	p := newTestProvider(t, ts.URL, "key", "secret")
	ctx := context.Background()

	cred, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	p.now = func() time.Time { return cred.ExpiresAt.Add(-30 * time.Second) }

	next, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if next.AccessToken != "token-2" {
		t.Errorf("AccessToken = %q, want token-2 after nearing expiry", next.AccessToken)
	}
}

func TestAcquire_MissingExpiresIn(t *testing.T) {
	ts := newTokenServer(t, grantHandler(0))
	p := newTestProvider(t, ts.URL, "key", "secret")

	before := time.Now()
	cred, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	lifetime := cred.ExpiresAt.Sub(before)
	if lifetime < DefaultLifetime-time.Minute || lifetime > DefaultLifetime+time.Minute {
		t.Errorf("lifetime = %v, want about %v", lifetime, DefaultLifetime)
	}
}

func TestInvalidate(t *testing.T) {
	ts := newTokenServer(t, grantHandler(3600))
	p := newTestProvider(t, ts.URL, "key", "secret")
	ctx := context.Background()

	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	p.Invalidate()

	cred, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if cred.AccessToken != "token-2" {
		t.Errorf("AccessToken = %q, want token-2", cred.AccessToken)
	}
	if got := ts.exchanges.Load(); got != 2 {
		t.Errorf("exchanges = %d, want 2", got)
	}
}

func TestAcquire_Rejected(t *testing.T) {
	ts := newTokenServer(t, grantHandler(3600))
	p := newTestProvider(t, ts.URL, "key", "wrong")

	_, err := p.Acquire(context.Background())
	if err == nil {
		t.Fatal("Acquire() error = nil, want AuthError")
	}

	if !errors.Is(err, ErrAuth) {
		t.Errorf("errors.Is(err, ErrAuth) = false for %v", err)
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type = %T, want *AuthError", err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", authErr.StatusCode)
	}

	// Never retried.
	if got := ts.exchanges.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1", got)
	}
}

func TestAcquire_Unreachable(t *testing.T) {
	ts := newTokenServer(t, grantHandler(3600))
	url := ts.URL
	ts.Close()

	p := newTestProvider(t, url, "key", "secret")
	_, err := p.Acquire(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Errorf("Acquire() error = %v, want ErrAuth", err)
	}
}

func TestCredential_Valid(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{name: "fresh", cred: Credential{AccessToken: "t", ExpiresAt: now.Add(time.Hour)}, want: true},
		{name: "inside margin", cred: Credential{AccessToken: "t", ExpiresAt: now.Add(59 * time.Second)}, want: false},
		{name: "at margin", cred: Credential{AccessToken: "t", ExpiresAt: now.Add(60 * time.Second)}, want: false},
		{name: "expired", cred: Credential{AccessToken: "t", ExpiresAt: now.Add(-time.Second)}, want: false},
		{name: "empty token", cred: Credential{ExpiresAt: now.Add(time.Hour)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.Valid(now, DefaultSafetyMargin); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
