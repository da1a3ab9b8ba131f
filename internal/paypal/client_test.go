package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/rental-checkout/internal/domain/payment"
)

// --- Helpers ---

type fakePayPal struct {
	tokens    atomic.Int32
	creates   atomic.Int32
	captureOK bool
	status    int
	// expiresIn is the token lifetime in seconds; zero means nine hours.
	expiresIn int
	// tokenWait holds the token response back.
	tokenWait time.Duration

	lastRequestID string
	lastBody      map[string]any
}

func (f *fakePayPal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		f.tokens.Add(1)
		time.Sleep(f.tokenWait)
		expiresIn := f.expiresIn
		if expiresIn == 0 {
			expiresIn = 32400
		}
		_, _ = fmt.Fprintf(w, `{"access_token":"tok","token_type":"Bearer","expires_in":%d}`, expiresIn)
	})
	mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		f.lastRequestID = r.Header.Get("PayPal-Request-Id")
		f.lastBody = nil
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		f.creates.Add(1)
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, `{"name":"INTERNAL_SERVER_ERROR","message":"try later","debug_id":"dbg"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"5O190127TN364715T","status":"CREATED","links":[
			{"href":"https://api.paypal.com/v2/checkout/orders/5O190127TN364715T","rel":"self"},
			{"href":"https://www.paypal.com/checkoutnow?token=5O190127TN364715T","rel":"approve"}]}`)
	})
	mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		f.lastRequestID = r.Header.Get("PayPal-Request-Id")
		if !f.captureOK {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED"}],"debug_id":"dbg"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"`+r.PathValue("id")+`","status":"COMPLETED",
			"payer":{"payer_id":"QYR5Z8XDVJNXQ","email_address":"buyer@example.com"},
			"purchase_units":[{"payments":{"captures":[{"id":"3C679366HH908993F","status":"COMPLETED",
			"amount":{"currency_code":"PHP","value":"3696.00"},
			"create_time":"2025-03-14T09:30:00Z","update_time":"2025-03-14T09:30:01Z"}]}}]}`)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakePayPal) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:          srv.URL,
		ClientID:         "client",
		ClientSecret:     "secret",
		Timeout:          5 * time.Second,
		BreakerThreshold: 2,
		BreakerTimeout:   time.Minute,
	}, nil)
}

func createRequest() payment.CreateOrderRequest {
	return payment.CreateOrderRequest{
		Amount:        decimal.RequireFromString("3696"),
		Currency:      "PHP",
		Description:   "Equipment rental, 2 day(s)",
		CorrelationID: "corr-1",
		Reference:     "TMP-corr-1",
	}
}

// --- Tests ---

func TestCreateOrder(t *testing.T) {
	f := &fakePayPal{}
	c := newTestClient(t, f)

	po, err := c.CreateOrder(context.Background(), createRequest())
	require.NoError(t, err)
	assert.Equal(t, "5O190127TN364715T", po.ID)
	assert.Equal(t, "CREATED", po.Status)
	assert.Equal(t, "https://www.paypal.com/checkoutnow?token=5O190127TN364715T", po.ApproveURL)
	assert.Equal(t, "corr-1", f.lastRequestID)

	units := f.lastBody["purchase_units"].([]any)
	amount := units[0].(map[string]any)["amount"].(map[string]any)
	assert.Equal(t, "3696.00", amount["value"])
	assert.Equal(t, "PHP", amount["currency_code"])
	assert.Equal(t, "CAPTURE", f.lastBody["intent"])

	_, err = c.CreateOrder(context.Background(), createRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokens.Load(), "token is cached")
}

func TestCaptureOrder(t *testing.T) {
	f := &fakePayPal{captureOK: true}
	c := newTestClient(t, f)

	r, err := c.CaptureOrder(context.Background(), "5O190127TN364715T")
	require.NoError(t, err)
	require.NoError(t, r.Validate())
	assert.Equal(t, "5O190127TN364715T", r.ProviderOrderID)
	assert.Equal(t, "3C679366HH908993F", r.CaptureID)
	assert.Equal(t, "3696.00", r.Amount)
	assert.Equal(t, "buyer@example.com", r.PayerEmail)
	assert.Equal(t, "capture-5O190127TN364715T", f.lastRequestID)
}

func TestCaptureOrder_Declined(t *testing.T) {
	f := &fakePayPal{}
	c := newTestClient(t, f)

	for range 3 {
		_, err := c.CaptureOrder(context.Background(), "5O190127TN364715T")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
		assert.Contains(t, apiErr.Error(), "INSTRUMENT_DECLINED")
	}
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	f := &fakePayPal{status: http.StatusInternalServerError}
	c := newTestClient(t, f)

	for range 2 {
		_, err := c.CreateOrder(context.Background(), createRequest())
		require.Error(t, err)
	}
	_, err := c.CreateOrder(context.Background(), createRequest())
	require.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), f.creates.Load())
}

func TestAccessToken_SharedFetch(t *testing.T) {
	f := &fakePayPal{tokenWait: 50 * time.Millisecond}
	c := newTestClient(t, f)

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.accessToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}()
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(t, "tok", tok)
	}
	assert.Equal(t, int32(1), f.tokens.Load())
}

func TestAccessToken_ShortLifetimeIsCached(t *testing.T) {
	f := &fakePayPal{expiresIn: 30}
	c := newTestClient(t, f)

	for range 3 {
		_, err := c.accessToken(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.tokens.Load())
}

func TestTokenTTL(t *testing.T) {
	tests := []struct {
		lifetime time.Duration
		want     time.Duration
	}{
		{lifetime: 9 * time.Hour, want: 9*time.Hour - time.Minute},
		{lifetime: 2 * time.Minute, want: time.Minute + 30*time.Second},
		{lifetime: 40 * time.Second, want: 30 * time.Second},
		{lifetime: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.lifetime.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tokenTTL(tt.lifetime))
		})
	}
}
