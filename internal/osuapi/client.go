// Package osuapi implements the osu! web API v2 client used by the
// resolver and the scan orchestrator: OAuth client-credentials token
// handling, rate limiting, bounded retries with exponential backoff,
// and the endpoints the pipeline consumes.
package osuapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/conf"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/errors"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/logging"
)

var (
	serviceLogger   *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	serviceLogger, closeLogger, err = logging.NewFileLogger("logs/osuapi.log", "osuapi", serviceLevelVar)
	if err != nil || serviceLogger == nil {
		logging.Warn("failed to initialize osuapi file logger", "error", err)
		serviceLogger = logging.ForService("osuapi")
		closeLogger = func() error { return nil }
	}
}

// Client talks to the osu! web API.
type Client struct {
	settings conf.APISettings

	httpClient *http.Client
	limiter    *rate.Limiter // authenticated API budget
	publicLim  *rate.Limiter // public download budget

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New creates a client from the API settings. A requests-per-minute
// budget of zero or less disables the corresponding limiter.
func New(settings conf.APISettings) *Client {
	return &Client{
		settings:   settings,
		httpClient: &http.Client{Timeout: settings.DownloadTimeout},
		limiter:    newLimiter(settings.RequestsPerMinute),
		publicLim:  newLimiter(settings.PublicRequestsPerMinute),
	}
}

func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// HTTPClient exposes the underlying client for transport mocking in
// tests.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Close flushes the service log file.
func (c *Client) Close() error {
	if closeLogger != nil {
		return closeLogger()
	}
	return nil
}

func (c *Client) wait(ctx context.Context, lim *rate.Limiter) error {
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// token returns a valid bearer token, requesting a fresh one when the
// cached token is missing or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second)) {
		return c.accessToken, nil
	}

	form := url.Values{
		"client_id":     {c.settings.ClientID},
		"client_secret": {c.settings.ClientSecret},
		"grant_type":    {"client_credentials"},
		"scope":         {"public"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.settings.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.New(err).Category(errors.CategoryNetwork).Build()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryNetwork).
			Context("operation", "token").
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("token request failed with status %d", resp.StatusCode).
			Category(errors.CategoryNetwork).
			Context("operation", "token").
			Build()
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", errors.New(err).Category(errors.CategoryNetwork).Build()
	}

	c.accessToken = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	serviceLogger.Debug("obtained api token", "expires_in", tr.ExpiresIn)

	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.accessToken = ""
	c.tokenMu.Unlock()
}

// ErrNotFound marks a 404 from the API.
var ErrNotFound = errors.NewStd("resource not found")

// get performs one authenticated GET with rate limiting and the retry
// policy: up to RetryCount+1 attempts, backoff base_delay * 2^attempt.
// A 404 maps to ErrNotFound and is never retried; a 401 invalidates the
// cached token before the next attempt; a 429 is retried after backoff.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	requestID := uuid.New().String()
	attempts := c.settings.RetryCount + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.settings.RetryDelay * time.Duration(1<<(attempt-1))
			serviceLogger.Debug("retrying api request",
				"request_id", requestID, "path", path, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.doGet(ctx, path, query, out, requestID)
		switch {
		case lastErr == nil:
			return nil
		case errors.Is(lastErr, ErrNotFound):
			return lastErr
		case ctx.Err() != nil:
			return ctx.Err()
		}
	}

	return lastErr
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values, out any, requestID string) error {
	if err := c.wait(ctx, c.limiter); err != nil {
		return err
	}

	tok, err := c.token(ctx)
	if err != nil {
		return err
	}

	u := c.settings.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.New(err).Category(errors.CategoryNetwork).Build()
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryNetwork).
			NetworkContext(u, c.httpClient.Timeout).
			Build()
	}
	defer resp.Body.Close()

	serviceLogger.Debug("api response",
		"request_id", requestID, "path", path,
		"status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.New(err).Category(errors.CategoryNetwork).Context("path", path).Build()
		}
		return nil
	case http.StatusNotFound:
		return errors.New(fmt.Errorf("%w: %s", ErrNotFound, path)).
			Category(errors.CategoryNotFound).
			Build()
	case http.StatusUnauthorized:
		c.invalidateToken()
		return errors.Newf("unauthorized (token rejected) for %s", path).
			Category(errors.CategoryNetwork).
			Build()
	case http.StatusTooManyRequests:
		return errors.Newf("rate limited by remote for %s", path).
			Category(errors.CategoryRateLimit).
			Build()
	default:
		return errors.Newf("unexpected status %d for %s", resp.StatusCode, path).
			Category(errors.CategoryNetwork).
			Build()
	}
}

func errorsNetwork(err error) error {
	return errors.New(err).Category(errors.CategoryNetwork).Build()
}

func errorsStatus(status int, path string) error {
	if status == http.StatusNotFound {
		return errors.New(fmt.Errorf("%w: %s", ErrNotFound, path)).
			Category(errors.CategoryNotFound).
			Build()
	}
	return errors.Newf("unexpected status %d for %s", status, path).
		Category(errors.CategoryNetwork).
		Build()
}

// readBody drains a response body for endpoints returning raw bytes.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
