// Package client provides the quota-aware request executor for the Petfinder API:
// global request pacing, bearer credentials, response classification and
// fixed-delay retries for transient failures.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/petfinder-collector/pkg/auth"
	"github.com/Sternrassler/petfinder-collector/pkg/quota"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// maxPayloadBytes bounds the response body read into memory.
const maxPayloadBytes = 16 << 20

// CredentialSource supplies bearer credentials.
type CredentialSource interface {
	Acquire(ctx context.Context) (auth.Credential, error)
	Invalidate()
}

// Client executes API requests one at a time.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	creds      CredentialSource
	quota      quota.Tracker
	config     Config
	logger     zerolog.Logger

	quotaHit atomic.Bool
	requests atomic.Int64
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, e.g. https://api.petfinder.com/v2
	BaseURL string

	// Credentials supplies the bearer token (REQUIRED).
	Credentials CredentialSource

	// Quota is an optional daily budget tracker.
	Quota quota.Tracker

	// RequestInterval is the minimum spacing between any two HTTP attempts.
	RequestInterval time.Duration

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// Retry schedule for network errors and 5xx responses.
	Retry RetryPolicy

	// User-Agent header
	UserAgent string

	// HTTPClient overrides the default client (Timeout is then ignored).
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration.
func DefaultConfig(baseURL string, creds CredentialSource) Config {
	return Config{
		BaseURL:         baseURL,
		Credentials:     creds,
		RequestInterval: 2 * time.Second,
		Timeout:         30 * time.Second,
		Retry:           DefaultRetryPolicy(),
		UserAgent:       "petfinder-collector",
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if cfg.RequestInterval < 0 {
		return nil, fmt.Errorf("request interval must be >= 0 (got %s)", cfg.RequestInterval)
	}
	for _, d := range cfg.Retry.Delays {
		if d < 0 {
			return nil, fmt.Errorf("retry delays must be >= 0 (got %s)", d)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		creds:      cfg.Credentials,
		quota:      cfg.Quota,
		config:     cfg,
		logger:     log.With().Str("component", "client").Logger(),
	}, nil
}

// Requests returns the number of HTTP attempts issued so far.
func (c *Client) Requests() int {
	return int(c.requests.Load())
}

// QuotaExceeded reports whether a quota signal has been observed by this client.
func (c *Client) QuotaExceeded() bool {
	return c.quotaHit.Load()
}

// response is the raw result of one HTTP attempt.
type response struct {
	status  int
	body    []byte
	headers http.Header
}

// Execute performs the request with pacing, credential handling, classification and
// retries. The returned error is non-nil only for conditions fatal to the whole run:
// a rejected credential (*auth.AuthError), a failing quota backend, or cancellation.
func (c *Client) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if c.quotaHit.Load() {
		return &Outcome{Kind: OutcomeQuotaExceeded, Class: ErrorClassQuota, Reason: "quota exhausted earlier in this run"}, nil
	}

	policy := c.config.Retry
	authRetried := false
	attempt := 1

	for {
		allowed, err := c.allow(ctx)
		if err != nil {
			return nil, err
		}
		if !allowed {
			c.quotaHit.Store(true)
			errorsTotal.WithLabelValues(string(ErrorClassQuota)).Inc()
			return &Outcome{Kind: OutcomeQuotaExceeded, Class: ErrorClassQuota, Reason: "daily request budget exhausted", Attempts: attempt - 1}, nil
		}

		resp, netErr, err := c.attempt(ctx, req)
		if err != nil {
			return nil, err
		}

		if netErr != nil {
			requestsTotal.WithLabelValues("network_error").Inc()
		} else {
			requestsTotal.WithLabelValues(strconv.Itoa(resp.status)).Inc()
		}

		out := classifyAttempt(resp, netErr, attempt)
		if out.Kind == OutcomeSuccess {
			if attempt > 1 {
				c.logger.Info().Str("path", req.Path).Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return out, nil
		}

		errorsTotal.WithLabelValues(string(out.Class)).Inc()
		logEvent := c.logger.Warn().
			Str("path", req.Path).
			Str("error_class", string(out.Class)).
			Int("attempt", attempt)
		if resp != nil {
			logEvent = logEvent.Int("status_code", resp.status)
		}
		logEvent.Str("reason", out.Reason).Msg("Request failed")

		switch {
		case out.Class == ErrorClassAuth:
			if authRetried {
				return nil, &auth.AuthError{
					StatusCode: out.StatusCode,
					Err:        fmt.Errorf("credential rejected after refresh: %w", out.Err()),
				}
			}
			authRetried = true
			c.creds.Invalidate()
			continue

		case out.Kind == OutcomeQuotaExceeded:
			c.quotaHit.Store(true)
			c.markExhausted(ctx, resp)
			return out, nil

		case out.Kind == OutcomeRetryable:
			if attempt >= policy.MaxAttempts() {
				retryExhaustedTotal.WithLabelValues(string(out.Class)).Inc()
				c.logger.Warn().
					Str("error_class", string(out.Class)).
					Int("max_attempts", policy.MaxAttempts()).
					Msg("Retry attempts exhausted")
				out.Kind = OutcomeFatal
				out.Reason = fmt.Sprintf("%v after %d attempts: %s", ErrRetryExhausted, attempt, out.Reason)
				return out, nil
			}
			if err := waitBackoff(ctx, c.logger, policy, out.Class, attempt); err != nil {
				return nil, err
			}
			attempt++
			continue

		default:
			return out, nil
		}
	}
}

// classifyAttempt turns one HTTP attempt into an outcome. Transient failures
// come back as OutcomeRetryable for the retry loop to act on.
func classifyAttempt(resp *response, netErr error, attempt int) *Outcome {
	if netErr != nil {
		return &Outcome{Kind: OutcomeRetryable, Class: ErrorClassNetwork, Reason: netErr.Error(), Attempts: attempt}
	}

	out := &Outcome{StatusCode: resp.status, Attempts: attempt}
	if resp.status >= 200 && resp.status < 300 {
		out.Kind = OutcomeSuccess
		out.Payload = resp.body
		return out
	}

	problem := parseProblem(resp.body)
	out.Class = classifyStatus(resp.status, problem)
	out.Reason = http.StatusText(resp.status)
	if problem != nil && problem.String() != "" {
		out.Reason = problem.String()
	}

	switch {
	case out.Class == ErrorClassQuota:
		out.Kind = OutcomeQuotaExceeded
	case shouldRetry(out.Class):
		out.Kind = OutcomeRetryable
	default:
		out.Kind = OutcomeFatal
	}
	return out
}

// allow consults the optional daily budget.
func (c *Client) allow(ctx context.Context) (bool, error) {
	if c.quota == nil {
		return true, nil
	}
	allowed, err := c.quota.Allow(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Quota check failed")
		return false, fmt.Errorf("quota check: %w", err)
	}
	return allowed, nil
}

func (c *Client) markExhausted(ctx context.Context, resp *response) {
	if c.quota == nil {
		return
	}
	until := quota.NextReset(time.Now())
	if resp != nil {
		if secs, err := strconv.Atoi(resp.headers.Get("Retry-After")); err == nil && secs > 0 {
			until = time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	if err := c.quota.MarkExhausted(ctx, until); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to record quota exhaustion")
	}
}

// attempt issues one paced HTTP request. A transport failure is returned as netErr;
// err is reserved for cancellation and credential failures.
func (c *Client) attempt(ctx context.Context, req Request) (resp *response, netErr error, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}

	cred, err := c.creds.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	target := c.config.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	httpReq.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().Str("path", req.Path).Str("query", req.Query.Encode()).Msg("Executing request")

	c.requests.Add(1)
	start := time.Now()
	httpResp, doErr := c.httpClient.Do(httpReq)
	requestDuration.Observe(time.Since(start).Seconds())

	if doErr != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		return nil, doErr, nil
	}
	defer httpResp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxPayloadBytes))
	if readErr != nil {
		if errors.Is(readErr, context.Canceled) || ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrContextCancelled, readErr)
		}
		return nil, fmt.Errorf("read body: %w", readErr), nil
	}

	return &response{status: httpResp.StatusCode, body: body, headers: httpResp.Header}, nil, nil
}
