// Package rest implements gateway.Gateway against an Endevor-style REST API.
package rest

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Iron-Ham/elmctl/internal/config"
	"github.com/Iron-Ham/elmctl/internal/errors"
	"github.com/Iron-Ham/elmctl/internal/logging"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultRateLimit = 10.0
	defaultRateBurst = 5

	// fingerprintHeader carries the element fingerprint on retrieve responses.
	fingerprintHeader = "fingerprint"

	// failureReturnCode is the lowest return code the remote uses for a
	// failed action. Lower non-zero codes are warnings.
	failureReturnCode = 8
)

// Config describes how to reach the remote.
type Config struct {
	BaseURL  string
	Instance string
	User     string
	Password string
	Timeout  time.Duration
	// RateLimit is requests per second; RateBurst the allowed burst above it.
	RateLimit float64
	RateBurst int
	// RejectUnauthorized enables TLS certificate verification.
	RejectUnauthorized bool
}

// ConfigFrom converts the gateway section of the application config.
func ConfigFrom(c config.GatewayConfig) Config {
	return Config{
		BaseURL:            c.BaseURL,
		Instance:           c.Instance,
		User:               c.User,
		Password:           c.Password,
		Timeout:            c.Timeout(),
		RateLimit:          c.RateLimit,
		RateBurst:          c.RateBurst,
		RejectUnauthorized: c.RejectUnauthorized,
	}
}

// Client is a rate-limited REST client. It implements gateway.Gateway and is
// safe for concurrent use.
type Client struct {
	cfg        Config
	base       *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. TLS and timeout settings from
// Config are not applied to it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger logs every request at debug level.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client. BaseURL and Instance are required.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.NewValidationError("base URL is required").WithField("gateway.base_url")
	}
	if cfg.Instance == "" {
		return nil, errors.NewValidationError("instance is required").WithField("gateway.instance")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.NewValidationError("invalid base URL").WithField("gateway.base_url").WithValue(cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.RejectUnauthorized {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed mainframe certificates
	}

	c := &Client{
		cfg:  cfg,
		base: base,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiResponse is the JSON envelope of every non-content response.
type apiResponse struct {
	ReturnCode int             `json:"returnCode"`
	ReasonCode int             `json:"reasonCode"`
	Messages   []string        `json:"messages"`
	Data       json.RawMessage `json:"data"`
}

type response struct {
	status int
	header http.Header
	body   []byte
}

type request struct {
	method      string
	segments    []string
	query       url.Values
	body        io.Reader
	contentType string
	accept      string
	// element is recorded on errors.
	element string
}

// endpoint joins the instance and escaped path segments onto the base URL.
func (c *Client) endpoint(segments []string, query url.Values) *url.URL {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, url.PathEscape(c.cfg.Instance))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u := c.base.JoinPath(escaped...)
	u.RawQuery = query.Encode()
	return u
}

// send performs one request. Transport failures are returned classified;
// HTTP error statuses are left to the caller.
func (c *Client) send(ctx context.Context, r request) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transportError(r.element, err)
	}

	u := c.endpoint(r.segments, r.query)
	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), r.body)
	if err != nil {
		return nil, errors.NewRemoteError(errors.ClassGeneric, "failed to build request").
			WithElement(r.element).
			WithCause(err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	accept := r.accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Accept", accept)
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("remote request failed", "method", r.method, "path", u.Path, "error", err)
		return nil, transportError(r.element, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(r.element, err)
	}
	c.logger.Debug("remote request",
		"method", r.method,
		"path", u.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// sendJSON performs a request expecting the JSON envelope and fails on an
// error status or a failing return code.
func (c *Client) sendJSON(ctx context.Context, r request) (apiResponse, error) {
	res, err := c.send(ctx, r)
	if err != nil {
		return apiResponse{}, err
	}
	if res.status >= http.StatusMultipleChoices {
		return apiResponse{}, responseError(r.element, res)
	}

	var api apiResponse
	if len(res.body) > 0 {
		if err := json.Unmarshal(res.body, &api); err != nil {
			return apiResponse{}, errors.NewRemoteError(errors.ClassGeneric, "malformed response").
				WithElement(r.element).
				WithCause(err)
		}
	}
	if api.ReturnCode >= failureReturnCode {
		return apiResponse{}, remoteFailure(r.element, res.status, api)
	}
	return api, nil
}

// responseError classifies an HTTP error status, reading the JSON envelope
// when the body carries one.
func responseError(element string, res *response) error {
	var api apiResponse
	_ = json.Unmarshal(res.body, &api)
	if len(api.Messages) == 0 && len(res.body) > 0 && !json.Valid(res.body) {
		api.Messages = []string{strings.TrimSpace(string(res.body))}
	}
	return remoteFailure(element, res.status, api)
}

func remoteFailure(element string, status int, api apiResponse) error {
	class := classifyMessages(api.Messages)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		class = errors.ClassCredentialsInvalid
	}
	return errors.NewRemoteError(class, fmt.Sprintf("remote returned status %d", status)).
		WithElement(element).
		WithReturnCode(api.ReturnCode).
		WithMessages(api.Messages...)
}
