// Package incontact implements the NICE inContact API surface: the
// authenticated HTTP session with its dual token-refresh protocols,
// date-window partitioning, and the asynchronous data-extraction job
// driver.
package incontact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/streamkit/nicesync/pkg/errors"
	jsonutil "github.com/streamkit/nicesync/pkg/json"
	"github.com/streamkit/nicesync/pkg/logger"
	"github.com/streamkit/nicesync/pkg/metrics"
)

const (
	defaultAuthDomain        = "na1"
	defaultAPIVersion        = "21.0"
	defaultExtractionVersion = "1"

	authURITemplate       = "https://%s.nice-incontact.com/authentication/v1/token/access-key"
	refreshURITemplate    = "https://%s.nice-incontact.com/public/user/refresh"
	baseURITemplate       = "https://api-%s.nice-incontact.com/inContactAPI/services/v%s"
	extractionURITemplate = "https://api-%s.nice-incontact.com/data-extraction/v%s"

	// Tokens are treated as expired this long before their reported
	// deadline so in-flight requests never ride a dying token.
	tokenExpiryMargin = 10 * time.Second
)

// Config holds client construction settings. Zero values fall back to
// production defaults.
type Config struct {
	APIKey            string
	APISecret         string
	Cluster           string
	APIVersion        string
	AuthDomain        string
	ExtractionVersion string
	UserAgent         string

	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	MaxIdleConns   int

	PollDelay   time.Duration
	PollTimeout time.Duration

	Retry *RetryPolicy
}

// Client is the authenticated API session. It owns the token lifecycle:
// every request is preceded by an ensure step that reuses, refreshes,
// or re-acquires the access token as the expiry clocks dictate.
type Client struct {
	httpClient *http.Client
	retry      *RetryPolicy
	now        func() time.Time

	authEndpoint    string
	refreshEndpoint string
	baseURL         string
	extractionURL   string

	apiKey    string
	apiSecret string
	userAgent string

	pollDelay   time.Duration
	pollTimeout time.Duration

	mu               sync.Mutex
	accessToken      string
	refreshToken     string
	accessExpiresAt  time.Time
	refreshExpiresAt time.Time
}

// NewClient creates a client for the given cluster and credentials.
func NewClient(cfg Config) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.AuthDomain == "" {
		cfg.AuthDomain = defaultAuthDomain
	}
	if cfg.ExtractionVersion == "" {
		cfg.ExtractionVersion = defaultExtractionVersion
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 90 * time.Second
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.PollDelay == 0 {
		cfg.PollDelay = 5 * time.Second
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 300 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryPolicy()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleTimeout,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("failed to enable HTTP/2, staying on HTTP/1.1", zap.Error(err))
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		retry:           cfg.Retry,
		now:             time.Now,
		authEndpoint:    fmt.Sprintf(authURITemplate, cfg.AuthDomain),
		refreshEndpoint: fmt.Sprintf(refreshURITemplate, cfg.AuthDomain),
		baseURL:         fmt.Sprintf(baseURITemplate, cfg.Cluster, cfg.APIVersion),
		extractionURL:   fmt.Sprintf(extractionURITemplate, cfg.Cluster, cfg.ExtractionVersion),
		apiKey:          cfg.APIKey,
		apiSecret:       cfg.APISecret,
		userAgent:       cfg.UserAgent,
		pollDelay:       cfg.PollDelay,
		pollTimeout:     cfg.PollTimeout,
	}
}

// RequestOptions collects the per-request settings applied by
// RequestOption values.
type RequestOptions struct {
	Params         map[string]string
	Body           interface{}
	Headers        map[string]string
	AbsoluteURL    bool
	ExtractionBase bool
	RetryCondition func(error) bool
}

// RequestOption customizes a single request.
type RequestOption func(*RequestOptions)

// WithParams sets query parameters.
func WithParams(params map[string]string) RequestOption {
	return func(o *RequestOptions) { o.Params = params }
}

// WithBody sets a JSON request body.
func WithBody(body interface{}) RequestOption {
	return func(o *RequestOptions) { o.Body = body }
}

// WithHeaders adds request headers on top of the standard set.
func WithHeaders(headers map[string]string) RequestOption {
	return func(o *RequestOptions) { o.Headers = headers }
}

// WithPagination marks the endpoint as a server-issued absolute URL,
// bypassing base-URL prefixing.
func WithPagination() RequestOption {
	return func(o *RequestOptions) { o.AbsoluteURL = true }
}

// WithExtractionBase routes the request against the data-extraction API
// instead of the reporting API.
func WithExtractionBase() RequestOption {
	return func(o *RequestOptions) { o.ExtractionBase = true }
}

// WithRetryCondition overrides the default retry condition for this
// request.
func WithRetryCondition(cond func(error) bool) RequestOption {
	return func(o *RequestOptions) { o.RetryCondition = cond }
}

// Get performs a GET request against the reporting API.
func (c *Client) Get(ctx context.Context, endpoint string, opts ...RequestOption) (map[string]interface{}, error) {
	return c.Request(ctx, http.MethodGet, endpoint, opts...)
}

// Request performs an authenticated API request with retries. A 204
// response returns (nil, nil); other 2xx responses return the parsed
// JSON object.
func (c *Client) Request(ctx context.Context, method, endpoint string, opts ...RequestOption) (map[string]interface{}, error) {
	o := &RequestOptions{RetryCondition: errors.IsRetryable}
	for _, opt := range opts {
		opt(o)
	}

	fullURL := endpoint
	if !o.AbsoluteURL {
		base := c.baseURL
		if o.ExtractionBase {
			base = c.extractionURL
		}
		fullURL = base + "/" + endpoint
	}

	var result map[string]interface{}
	attempt := 0

	err := c.retry.ExecuteWithCondition(ctx, func() error {
		attempt++
		if attempt > 1 {
			metrics.APIRetries.WithLabelValues(method).Inc()
			logger.Info("retrying API request",
				zap.String("method", method),
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt))
		}

		res, err := c.do(ctx, method, fullURL, o)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, o.RetryCondition)

	return result, err
}

func (c *Client) do(ctx context.Context, method, fullURL string, o *RequestOptions) (map[string]interface{}, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if o.Body != nil {
		data, err := jsonutil.Marshal(o.Body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeClient, "failed to encode request body")
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeClient, "failed to build request")
	}

	if len(o.Params) > 0 {
		q := req.URL.Query()
		for k, v := range o.Params {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if o.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range o.Headers {
		req.Header.Set(k, v)
	}

	logger.Debug("API request",
		zap.String("method", method),
		zap.String("url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues(method, "error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeServer, "connection failure")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.APIRequests.WithLabelValues(method, "error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeServer, "failed to read response body")
	}

	metrics.APIRequests.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	return c.classify(method, req.URL.String(), resp, body)
}

// classify maps a response to a result or a typed error. Order matters:
// 5xx before 429 before 401/403 before the 4xx catch-all.
func (c *Client) classify(method, url string, resp *http.Response, body []byte) (map[string]interface{}, error) {
	switch {
	case resp.StatusCode >= 500:
		msg := string(body)
		if msg == "" {
			msg = resp.Status
		}
		return nil, errors.New(errors.ErrorTypeServer, msg).
			WithDetail("status", resp.StatusCode)

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.New(errors.ErrorTypeRateLimit, "rate limit exceeded").
			WithDetail("status", resp.StatusCode).
			WithDetail("headers", resp.Header).
			WithDetail("body", string(body))

	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidateSession()
		return nil, errors.New(errors.ErrorTypeUnauthorized, statusMessage(resp, body, "unauthorized")).
			WithDetail("status", resp.StatusCode)

	case resp.StatusCode == http.StatusForbidden:
		return nil, errors.New(errors.ErrorTypeForbidden, statusMessage(resp, body, "forbidden")).
			WithDetail("status", resp.StatusCode)

	case resp.StatusCode >= 400:
		return nil, errors.New(errors.ErrorTypeClient, statusMessage(resp, body, "")).
			WithDetail("status", resp.StatusCode)

	case resp.StatusCode == http.StatusNoContent:
		logger.Info("no content for request",
			zap.String("method", method),
			zap.String("url", url))
		return nil, nil
	}

	var result map[string]interface{}
	if err := jsonutil.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeServer, "response body is not valid JSON")
	}
	return result, nil
}

// statusMessage prefers the icStatusDescription header, which often
// carries the error message instead of the body.
func statusMessage(resp *http.Response, body []byte, fallback string) string {
	if msg := resp.Header.Get("icStatusDescription"); msg != "" {
		return msg
	}
	if len(body) > 0 {
		return string(body)
	}
	if fallback != "" {
		return fallback
	}
	return resp.Status
}

// ensureToken returns a valid access token, refreshing or fully
// re-authenticating as needed. Synchronous: the caller's request does
// not proceed until the session is valid.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.accessToken != "" && now.Before(c.accessExpiresAt) {
		return c.accessToken, nil
	}

	// A zero refresh deadline means the identity provider has not
	// reported one yet; the refresh token is assumed live.
	if c.refreshToken != "" && (c.refreshExpiresAt.IsZero() || now.Before(c.refreshExpiresAt)) {
		if err := c.refreshLocked(ctx); err != nil {
			return "", err
		}
		return c.accessToken, nil
	}

	if err := c.authenticateLocked(ctx); err != nil {
		return "", err
	}
	return c.accessToken, nil
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	data, err := c.identityRequest(ctx, c.authEndpoint, map[string]string{
		"accessKeyId":     c.apiKey,
		"accessKeySecret": c.apiSecret,
	})
	if err != nil {
		return err
	}

	token, _ := data["access_token"].(string)
	if token == "" {
		return errors.New(errors.ErrorTypeAuthentication, "authentication response missing access_token")
	}
	refreshToken, _ := data["refresh_token"].(string)

	expiresIn, err := asSeconds(data["expires_in"])
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "authentication response has invalid expires_in")
	}

	c.accessToken = token
	c.refreshToken = refreshToken
	c.accessExpiresAt = c.now().Add(expiresIn - tokenExpiryMargin)
	// The auth endpoint does not report refresh-token expiry.
	c.refreshExpiresAt = time.Time{}

	logger.Debug("acquired access token", zap.Time("expires_at", c.accessExpiresAt))
	return nil
}

func (c *Client) refreshLocked(ctx context.Context) error {
	data, err := c.identityRequest(ctx, c.refreshEndpoint, map[string]string{
		"token": c.refreshToken,
	})
	if err != nil {
		return err
	}

	token, _ := data["token"].(string)
	if token == "" {
		return errors.New(errors.ErrorTypeAuthentication, "refresh response missing token")
	}
	refreshToken, _ := data["refreshToken"].(string)

	accessTTL, err := asSeconds(data["tokenExpirationTimeSec"])
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "refresh response has invalid tokenExpirationTimeSec")
	}
	refreshTTL, err := asSeconds(data["refreshTokenExpirationTimeSec"])
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "refresh response has invalid refreshTokenExpirationTimeSec")
	}

	now := c.now()
	c.accessToken = token
	c.refreshToken = refreshToken
	c.accessExpiresAt = now.Add(accessTTL - tokenExpiryMargin)
	c.refreshExpiresAt = now.Add(refreshTTL - tokenExpiryMargin)

	logger.Debug("refreshed access token",
		zap.Time("expires_at", c.accessExpiresAt),
		zap.Time("refresh_expires_at", c.refreshExpiresAt))
	return nil
}

// identityRequest posts to an identity endpoint without bearer auth.
// Any non-2xx answer is an AuthenticationError: the identity endpoints
// are never retried.
func (c *Client) identityRequest(ctx context.Context, endpoint string, payload interface{}) (map[string]interface{}, error) {
	body, err := jsonutil.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to encode identity request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to build identity request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeServer, "connection failure reaching identity endpoint")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeServer, "failed to read identity response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf(errors.ErrorTypeAuthentication, "identity endpoint returned status %d", resp.StatusCode).
			WithDetail("body", string(raw))
	}

	var data map[string]interface{}
	if err := jsonutil.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "identity response is not valid JSON")
	}
	return data, nil
}

// invalidateSession drops all cached session state so the next request
// performs full re-authentication.
func (c *Client) invalidateSession() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accessToken = ""
	c.refreshToken = ""
	c.accessExpiresAt = time.Time{}
	c.refreshExpiresAt = time.Time{}

	logger.Info("session invalidated, will re-authenticate on next request")
}

// asSeconds parses an expiry field that may arrive as a number or a
// numeric string.
func asSeconds(v interface{}) (time.Duration, error) {
	switch n := v.(type) {
	case float64:
		return time.Duration(n * float64(time.Second)), nil
	case string:
		sec, err := strconv.Atoi(n)
		if err != nil {
			return 0, err
		}
		return time.Duration(sec) * time.Second, nil
	case nil:
		return 0, errors.New(errors.ErrorTypeAuthentication, "expiry value missing")
	default:
		return 0, errors.Newf(errors.ErrorTypeAuthentication, "unsupported expiry type %T", v)
	}
}
