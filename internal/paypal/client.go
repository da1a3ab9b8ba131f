// Package paypal is a REST client for the PayPal Orders API. It implements
// payment.Provider.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/rental-checkout/internal/domain/payment"
)

var _ payment.Provider = (*Client)(nil)

// SandboxURL is the base URL of the PayPal sandbox.
const SandboxURL = "https://api-m.sandbox.paypal.com"

// Config configures a Client.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// BreakerThreshold is the number of consecutive failures that opens the
	// circuit; BreakerTimeout is how long it stays open.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

// APIError is an error response of the PayPal API.
type APIError struct {
	StatusCode int
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
	Details    []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("paypal: %d %s", e.StatusCode, e.Name)
	if len(e.Details) > 0 {
		msg += ": " + e.Details[0].Issue
	} else if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Client calls the PayPal API through a circuit breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	lg      *zap.Logger
	now     func() time.Time

	tokens      singleflight.Group
	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a Client.
func New(cfg Config, lg *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop()
	}

	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		lg:  lg,
		now: time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "paypal",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		// Business rejections (declined instrument, bad request) do not
		// indicate an unhealthy provider.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return c
}

// CreateOrder creates a CAPTURE-intent order. The correlation id is sent as
// PayPal-Request-Id, so a retried create returns the original order.
func (c *Client) CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (*payment.ProviderOrder, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("intent", func(e *jx.Encoder) { e.Str("CAPTURE") })
		e.Field("purchase_units", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("reference_id", func(e *jx.Encoder) { e.Str(req.Reference) })
					if req.Description != "" {
						e.Field("description", func(e *jx.Encoder) { e.Str(req.Description) })
					}
					e.Field("amount", func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							e.Field("currency_code", func(e *jx.Encoder) { e.Str(req.Currency) })
							e.Field("value", func(e *jx.Encoder) { e.Str(req.Amount.StringFixed(2)) })
						})
					})
				})
			})
		})
	})

	body, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", req.CorrelationID, e.Bytes())
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &payment.ProviderOrder{
		ID:         resp.ID,
		Status:     resp.Status,
		ApproveURL: resp.approveURL(),
	}, nil
}

// CaptureOrder captures an approved order. The request id is derived from
// the order id, so a retried capture cannot charge twice.
func (c *Client) CaptureOrder(ctx context.Context, providerOrderID string) (*payment.Receipt, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(providerOrderID) + "/capture"
	body, err := c.do(ctx, http.MethodPost, path, "capture-"+providerOrderID, []byte("{}"))
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "decode capture")
	}
	return resp.receipt(), nil
}

func (c *Client) do(ctx context.Context, method, path, requestID string, body []byte) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "build request")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
		if requestID != "" {
			req.Header.Set("PayPal-Request-Id", requestID)
		}

		c.lg.Debug("Calling payment provider",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
		)
		resp, err := c.send(req)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			c.invalidateToken()
		}
		return resp, err
	})
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, true
	}
	return "", false
}

// accessToken returns the cached token or fetches a new one. Concurrent
// callers share a single fetch.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if token, ok := c.cachedToken(); ok {
		return token, nil
	}

	ch := c.tokens.DoChan("token", func() (any, error) {
		if token, ok := c.cachedToken(); ok {
			return token, nil
		}
		return c.fetchToken(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "build token request")
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.send(req)
	if err != nil {
		return "", errors.Wrap(err, "fetch access token")
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", errors.Wrap(err, "decode access token")
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access token")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(tokenTTL(time.Duration(tok.ExpiresIn) * time.Second))
	return c.token, nil
}

// tokenTTL is how long a token of the given lifetime is reused. It is
// refreshed a minute early, or a quarter of its lifetime for short-lived
// tokens.
func tokenTTL(lifetime time.Duration) time.Duration {
	if lifetime <= 0 {
		return 0
	}
	return lifetime - min(time.Minute, lifetime/4)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		if apiErr.Name == "" {
			apiErr.Name = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}
	return body, nil
}
