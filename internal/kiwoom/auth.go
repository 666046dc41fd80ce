package kiwoom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"momentum/internal/domain"
)

const (
	tokenPath  = "/oauth2/token"
	tokenAPIID = "au10001"

	// Refresh this long before the announced expiry.
	tokenSkew = time.Minute
	// Lifetime assumed when the response carries no expiry.
	defaultTokenTTL = time.Hour
)

// tokenSource caches the bearer token. The token itself is never logged.
type tokenSource struct {
	c         *Client
	appKey    string
	secretKey string
	timeout   time.Duration
	loc       *time.Location
	now       func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(c *Client, appKey, secretKey string, timeout time.Duration, loc *time.Location) *tokenSource {
	if loc == nil {
		loc = time.Local
	}
	return &tokenSource{
		c:         c,
		appKey:    appKey,
		secretKey: secretKey,
		timeout:   timeout,
		loc:       loc,
		now:       time.Now,
	}
}

// Token returns a valid token, acquiring a new one synchronously when the
// cache is empty or about to expire. Failures wrap domain.ErrAuth.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Add(tokenSkew).Before(ts.expires) {
		return ts.token, nil
	}

	if ts.appKey == "" || ts.secretKey == "" {
		return "", fmt.Errorf("%w: app key or secret key not configured", domain.ErrAuth)
	}

	if ts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ts.timeout)
		defer cancel()
	}

	resp, err := ts.c.send(ctx, Request{
		APIID:  tokenAPIID,
		Path:   tokenPath,
		NoAuth: true,
		Body: map[string]string{
			"grant_type": "client_credentials",
			"appkey":     ts.appKey,
			"secretkey":  ts.secretKey,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: token request: %w", domain.ErrAuth, err)
	}

	token, expires, err := parseToken(resp.Body, ts.loc, ts.now())
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}

	ts.token, ts.expires = token, expires
	ts.c.log.Info("token acquired", "expires", expires.Format(time.RFC3339))
	return token, nil
}

// Invalidate drops the cached token.
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expires = time.Time{}
	ts.mu.Unlock()
}

func parseToken(body []byte, loc *time.Location, now time.Time) (string, time.Time, error) {
	if !gjson.ValidBytes(body) {
		return "", time.Time{}, domain.NewParseError("token", body)
	}
	doc := gjson.ParseBytes(body)

	if rc := doc.Get("return_code"); rc.Exists() && rc.Int() != 0 {
		return "", time.Time{}, fmt.Errorf("token refused: return_code=%d: %s", rc.Int(), doc.Get("return_msg").String())
	}

	token, ok := firstString(doc, "token", "access_token", "access_token_token", "data.access_token")
	if !ok {
		// Never include the payload: it may contain a partial credential.
		return "", time.Time{}, &domain.ParseError{What: "token", Sample: "<redacted>"}
	}

	expires := now.Add(defaultTokenTTL)
	if dt, ok := firstString(doc, "expires_dt", "data.expires_dt"); ok {
		if t, err := time.ParseInLocation("20060102150405", dt, loc); err == nil {
			expires = t
		}
	} else if secs := doc.Get("expires_in"); secs.Exists() && secs.Int() > 0 {
		expires = now.Add(time.Duration(secs.Int()) * time.Second)
	}
	return token, expires, nil
}
