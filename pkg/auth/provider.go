// Package auth supplies bearer credentials for the Petfinder API.
//
// Credentials are obtained through the OAuth2 client credentials grant and cached
// until their remaining lifetime drops under a safety margin. A credential rejected
// by the API is dropped with Invalidate so the next Acquire performs a fresh exchange.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	credentialExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_credential_exchanges_total",
		Help: "Total credential exchanges by result",
	}, []string{"result"})

	credentialInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_credential_invalidations_total",
		Help: "Total credentials dropped after being rejected",
	})
)

const (
	// DefaultSafetyMargin is the minimum remaining lifetime of a cached credential.
	DefaultSafetyMargin = 60 * time.Second

	// DefaultLifetime applies when the token response carries no expires_in.
	DefaultLifetime = time.Hour
)

// Credential is a bearer token with its expiry.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the credential outlives now by more than margin.
func (c Credential) Valid(now time.Time, margin time.Duration) bool {
	return c.AccessToken != "" && c.ExpiresAt.Sub(now) > margin
}

// Config holds the credential exchange settings.
type Config struct {
	// TokenURL is the OAuth2 token endpoint.
	TokenURL string

	// ClientID and ClientSecret identify the application (API key and secret).
	ClientID     string
	ClientSecret string

	// SafetyMargin defaults to DefaultSafetyMargin.
	SafetyMargin time.Duration

	// HTTPClient is used for the exchange (default: 30s timeout client).
	HTTPClient *http.Client
}

// Provider caches and refreshes bearer credentials.
type Provider struct {
	oauth      *clientcredentials.Config
	httpClient *http.Client
	margin     time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.Mutex
	current *Credential
}

// NewProvider creates a credential provider. No exchange happens until Acquire.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token url is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client id and secret are required")
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Provider{
		oauth: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: cfg.HTTPClient,
		margin:     cfg.SafetyMargin,
		now:        time.Now,
		logger:     log.With().Str("component", "auth").Logger(),
	}, nil
}

// Acquire returns a credential valid for at least the safety margin,
// exchanging a new one when the cached credential is missing or about to expire.
func (p *Provider) Acquire(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && p.current.Valid(p.now(), p.margin) {
		return *p.current, nil
	}

	cred, err := p.exchange(ctx)
	if err != nil {
		return Credential{}, err
	}
	p.current = &cred
	return cred, nil
}

// Invalidate drops the cached credential.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		credentialInvalidationsTotal.Inc()
		p.logger.Warn().Msg("Credential invalidated")
	}
	p.current = nil
}

func (p *Provider) exchange(ctx context.Context) (Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.oauth.Token(ctx)
	if err != nil {
		credentialExchangesTotal.WithLabelValues("rejected").Inc()
		authErr := &AuthError{Err: err}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			authErr.StatusCode = re.Response.StatusCode
		}
		p.logger.Error().Err(err).Int("status_code", authErr.StatusCode).Msg("Credential exchange failed")
		return Credential{}, authErr
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = p.now().Add(DefaultLifetime)
	}

	credentialExchangesTotal.WithLabelValues("ok").Inc()
	p.logger.Info().Time("expires_at", expiresAt).Msg("Credential acquired")

	return Credential{AccessToken: tok.AccessToken, ExpiresAt: expiresAt}, nil
}
