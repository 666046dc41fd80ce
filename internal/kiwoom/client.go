// Package kiwoom implements the Kiwoom Securities REST API: a rate-limited,
// retrying transport, token acquisition and typed endpoint wrappers for
// minute bars, quotes, balances, holdings, foreign flow and market orders.
package kiwoom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"momentum/internal/domain"
	"momentum/internal/util"
)

// Header names used for continuation paging.
const (
	headerAPIID   = "api-id"
	headerContYN  = "cont-yn"
	headerNextKey = "next-key"
)

// Request is one POST to the REST API.
type Request struct {
	APIID   string
	Path    string
	Body    any
	NextKey string // continuation key from the previous page
	NoAuth  bool   // token endpoint only
	NoRetry bool   // order placement: one attempt, the outcome of a failed call is unknown
}

// Response is a successful (2xx) reply.
type Response struct {
	Status  int
	Header  http.Header
	Body    []byte
	NextKey string
	more    bool
}

// More reports whether the server announced a continuation page.
func (r *Response) More() bool { return r.more && r.NextKey != "" }

// Sender is the transport used by the endpoint wrappers.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL         string
	AppKey          string
	SecretKey       string
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	MaxTotalWait    time.Duration
	Jitter          float64
	RequestTimeout  time.Duration
	TokenTimeout    time.Duration
	RateLimitPerMin int
	Location        *time.Location // zone of expires_dt
	HTTPClient      *http.Client
}

// Client is the RateLimitedClient: every outbound call is paced, timed out,
// classified and retried here.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *util.RateLimiter
	policy  util.RetryPolicy
	timeout time.Duration
	tokens  *tokenSource
	log     *slog.Logger
}

var _ Sender = (*Client)(nil)

// NewClient creates a Client for the given options.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		timeout: opts.RequestTimeout,
		log:     slog.Default().With("component", "kiwoom"),
	}
	c.policy = util.RetryPolicy{
		MaxRetries:   opts.MaxRetries,
		BaseDelay:    opts.BaseDelay,
		MaxDelay:     opts.MaxDelay,
		MaxTotalWait: opts.MaxTotalWait,
		Jitter:       opts.Jitter,
		Retryable:    domain.Retryable,
	}
	c.tokens = newTokenSource(c, opts.AppKey, opts.SecretKey, opts.TokenTimeout, opts.Location)
	return c
}

// Authenticate acquires a token eagerly so that credential problems surface
// before the session starts.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}

// Send performs req with rate limiting and bounded retries. A 401 invalidates
// the cached token and the call is repeated once with a fresh one; the server
// did not process a request it refused, so this holds for NoRetry requests too.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.send(ctx, req)
	if err != nil && errors.Is(err, domain.ErrAuth) && !req.NoAuth {
		c.log.Warn("token refused, re-authenticating", "api_id", req.APIID)
		c.tokens.Invalidate()
		resp, err = c.send(ctx, req)
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	if req.NoRetry {
		if err := c.limiter.Wait(ctx, req.APIID); err != nil {
			return nil, err
		}
		resp, err := c.do(ctx, req, 1)
		if err != nil {
			c.log.Error("api call failed, not retried", "api_id", req.APIID, "error", err)
			return nil, err
		}
		return resp, nil
	}

	var resp *Response
	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.log.Warn("api call failed, retrying",
			"api_id", req.APIID, "attempt", attempt, "backoff", delay.Round(time.Millisecond), "error", err)
	}

	err := policy.Do(ctx, func(attempt int) error {
		if err := c.limiter.Wait(ctx, req.APIID); err != nil {
			return err
		}
		r, err := c.do(ctx, req, attempt)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		c.log.Error("api call failed", "api_id", req.APIID, "error", err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, req Request, attempt int) (*Response, error) {
	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", req.APIID, err)
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+req.Path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", req.APIID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json;charset=UTF-8")
	if req.APIID != "" {
		httpReq.Header.Set(headerAPIID, req.APIID)
	}
	if !req.NoAuth {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if req.NextKey != "" {
		httpReq.Header.Set(headerContYN, "Y")
		httpReq.Header.Set(headerNextKey, req.NextKey)
	}

	start := time.Now()
	res, err := c.http.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("api call", "api_id", req.APIID, "attempt", attempt, "latency", latency.Round(time.Millisecond), "error", err)
		return nil, &domain.APIError{APIID: req.APIID, Msg: connErrorMsg(err), Kind: domain.ErrTransientNetwork}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &domain.APIError{APIID: req.APIID, Status: res.StatusCode, Msg: err.Error(), Kind: domain.ErrTransientNetwork}
	}

	c.log.Info("api call", "api_id", req.APIID, "attempt", attempt, "status", res.StatusCode,
		"latency", latency.Round(time.Millisecond), "bytes", len(body))

	if kind := classifyStatus(res.StatusCode); kind != nil {
		return nil, &domain.APIError{
			APIID:  req.APIID,
			Status: res.StatusCode,
			Msg:    truncate(string(body), 200),
			Kind:   kind,
			Wait:   retryAfter(res.Header),
		}
	}

	return &Response{
		Status:  res.StatusCode,
		Header:  res.Header,
		Body:    body,
		NextKey: strings.TrimSpace(res.Header.Get(headerNextKey)),
		more:    strings.EqualFold(strings.TrimSpace(res.Header.Get(headerContYN)), "Y"),
	}, nil
}

// classifyStatus maps an HTTP status to an error kind; nil means success.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return domain.ErrRateLimit
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.ErrAuth
	case status >= 500:
		return domain.ErrTransientNetwork
	default:
		return domain.ErrBadRequest
	}
}

func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func connErrorMsg(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
