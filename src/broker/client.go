// Package broker is the typed request/response surface over the broker's
// REST endpoint (spec.md §6), grounded structurally on the teacher's
// connectors.Client (resty, HMAC-style signed/authenticated requests,
// internal retry) but rewired to the Kabu-Station-style wire protocol
// recovered from _examples/original_source/logic_worker_mixin.py:
// POST /token, POST /sendorder, PUT /cancelorder, GET /orders,
// GET /positions, GET /symbol/{code}.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"strategyexecutor/src/apperr"
	"strategyexecutor/src/metrics"
	"strategyexecutor/src/ratelimit"
)

// Client is the Broker Adapter. The auth token is shared process-wide and
// refreshed lazily on 401; refresh is serialized via singleflight so only
// one concurrent refresh is ever in flight (spec.md §5). Every call waits
// on the appropriate rate-limit bucket before it hits the wire.
type Client struct {
	http             *resty.Client
	apiPassword      string
	log              *logger.Entry
	limits           *ratelimit.Buckets
	metrics          *metrics.Registry
	orderWaitTimeout time.Duration

	tokenMu sync.RWMutex
	token   string

	refreshGroup singleflight.Group
}

// SetMetrics wires a Registry in after construction; nil is a no-op, so
// tests that build a Client directly never need to care about metrics.
func (c *Client) SetMetrics(r *metrics.Registry) { c.metrics = r }

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return (code >= 500 && code <= 599) || code == 429 || code == 408
}

// New builds a Client. apiPassword is the already-decrypted broker
// password (decryption happens once at Supervisor init per spec.md §9).
func New(cfg Config, apiPassword string, limits *ratelimit.Buckets, log *logger.Entry) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(cfg.RetryAttempts - 1).
		SetRetryWaitTime(cfg.RetryBaseDelay).
		SetRetryMaxWaitTime(cfg.RetryMaxDelay).
		AddRetryCondition(isRetryableResp)

	return &Client{
		http:             httpClient,
		apiPassword:      apiPassword,
		limits:           limits,
		log:              log,
		orderWaitTimeout: cfg.RequestTimeout,
	}
}

// Authenticate calls POST /token and caches the returned token. Only one
// refresh runs at a time; concurrent callers await its result.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	v, err, _ := c.refreshGroup.Do("token", func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(map[string]string{"APIPassword": c.apiPassword}).
			Post("/token")
		if err != nil {
			return "", apperr.Wrap(apperr.KindBrokerUnavailable, "authenticate", err)
		}
		if resp.StatusCode() != 200 {
			return "", apperr.New(apperr.KindAuthExpired, fmt.Sprintf("authenticate HTTP %d", resp.StatusCode()))
		}
		var tok tokenResponse
		if err := json.Unmarshal(resp.Body(), &tok); err != nil {
			return "", apperr.Wrap(apperr.KindBrokerUnavailable, "decoding token response", err)
		}
		c.tokenMu.Lock()
		c.token = tok.Token
		c.tokenMu.Unlock()
		return tok.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) currentToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenMu.Unlock()
}

// doJSON issues one authenticated request, reauthenticating once on 401
// per spec.md §5 ("explicit handling of 401: reauthenticate once, then
// retry"), and decodes a 2xx body into out (no-op if out is nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) (err error) {
	start := time.Now()
	defer func() { c.observe(path, start, err) }()

	if c.limits != nil {
		if err := c.limits.WaitInfo(ctx); err != nil {
			return apperr.Wrap(apperr.KindRateLimited, "waiting for info rate budget", err)
		}
	}

	token := c.currentToken()
	if token == "" {
		var err error
		token, err = c.Authenticate(ctx)
		if err != nil {
			return err
		}
	}

	resp, err := c.request(ctx, method, path, token, body)
	if err != nil {
		return apperr.Wrap(apperr.KindBrokerUnavailable, fmt.Sprintf("%s %s", method, path), err)
	}

	if resp.StatusCode() == 401 {
		c.invalidateToken()
		token, err = c.Authenticate(ctx)
		if err != nil {
			return err
		}
		resp, err = c.request(ctx, method, path, token, body)
		if err != nil {
			return apperr.Wrap(apperr.KindBrokerUnavailable, fmt.Sprintf("%s %s (retry)", method, path), err)
		}
		if resp.StatusCode() == 401 {
			return apperr.New(apperr.KindAuthExpired, "reauthentication failed")
		}
	}

	if resp.StatusCode() == 429 {
		return apperr.New(apperr.KindRateLimited, "broker returned 429")
	}

	if resp.StatusCode() >= 400 {
		var apiErr apiErrorBody
		_ = json.Unmarshal(resp.Body(), &apiErr)
		return apperr.New(apperr.KindBrokerRejected, fmt.Sprintf("%s %s: HTTP %d code=%d msg=%s",
			method, path, resp.StatusCode(), apiErr.Code, ErrorMessage(apiErr.Code)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apperr.Wrap(apperr.KindBrokerUnavailable, "decoding response", err)
	}
	return nil
}

func (c *Client) observe(path string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.BrokerRequestsTotal.WithLabelValues(path, outcome).Inc()
	c.metrics.BrokerRequestLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
}

func (c *Client) request(ctx context.Context, method, path, token string, body interface{}) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx).SetHeader("X-API-KEY", token)
	if body != nil {
		req = req.SetBody(body)
	}
	return req.Execute(method, path)
}

// errorCode extracts the broker's numeric error code from an error
// response's JSON body, for doJSONWithCode's callers (like the market-code
// fallback loop) that need to branch on it specifically.
func errorCode(resp *resty.Response) int {
	var apiErr apiErrorBody
	_ = json.Unmarshal(resp.Body(), &apiErr)
	return apiErr.Code
}

// doJSONWithCode is doJSON but also returns the raw broker error code on
// a BrokerRejected, used by the market-code fallback retry. Order-class
// calls bound their rate-limit wait to orderWaitTimeout (the same
// BROKER_REQUEST_TIMEOUT the HTTP round trip itself is bound to) so a
// saturated order bucket surfaces as KindRateLimited instead of hanging
// the caller indefinitely.
func (c *Client) doJSONWithCode(ctx context.Context, method, path string, body, out interface{}) (code int, err error) {
	start := time.Now()
	defer func() { c.observe(path, start, err) }()

	if c.limits != nil {
		if err := c.limits.WaitOrderTimeout(ctx, c.orderWaitTimeout); err != nil {
			return 0, apperr.Wrap(apperr.KindRateLimited, "waiting for order rate budget", err)
		}
	}

	token := c.currentToken()
	if token == "" {
		var err error
		token, err = c.Authenticate(ctx)
		if err != nil {
			return 0, err
		}
	}

	resp, err := c.request(ctx, method, path, token, body)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindBrokerUnavailable, fmt.Sprintf("%s %s", method, path), err)
	}

	if resp.StatusCode() == 401 {
		c.invalidateToken()
		token, err = c.Authenticate(ctx)
		if err != nil {
			return 0, err
		}
		resp, err = c.request(ctx, method, path, token, body)
		if err != nil {
			return 0, apperr.Wrap(apperr.KindBrokerUnavailable, fmt.Sprintf("%s %s (retry)", method, path), err)
		}
		if resp.StatusCode() == 401 {
			return 0, apperr.New(apperr.KindAuthExpired, "reauthentication failed")
		}
	}

	if resp.StatusCode() == 429 {
		return 0, apperr.New(apperr.KindRateLimited, "broker returned 429")
	}

	if resp.StatusCode() >= 400 {
		code := errorCode(resp)
		return code, apperr.New(apperr.KindBrokerRejected, fmt.Sprintf("%s %s: HTTP %d code=%d msg=%s",
			method, path, resp.StatusCode(), code, ErrorMessage(code)))
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return 0, apperr.Wrap(apperr.KindBrokerUnavailable, "decoding response", err)
		}
	}
	return 0, nil
}
