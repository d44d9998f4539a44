package nowpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL = "https://api.nowpayments.io/v1"
	defaultTimeout = 10 * time.Second
	maxAttempts    = 3
)

// ErrNotConfigured is returned when the API key is missing.
var ErrNotConfigured = errors.New("nowpayments: api key is empty")

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nowpayments http error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Config holds NOWPayments configuration
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client is a NOWPayments REST client.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	backoff time.Duration
}

// NewClient creates a new NOWPayments client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout, Transport: transport},
		backoff: 250 * time.Millisecond,
	}
}

// PaymentID is the gateway payment id. The API sends it as a number in
// some responses and as a string in others.
type PaymentID string

func (id *PaymentID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		*id = PaymentID(unquoted)
		return nil
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return fmt.Errorf("nowpayments: invalid payment_id %s", s)
	}
	*id = PaymentID(s)
	return nil
}

func (id PaymentID) String() string { return string(id) }

// CreatePaymentRequest is the body of POST /payment.
type CreatePaymentRequest struct {
	PriceAmount      decimal.Decimal `json:"price_amount"`
	PriceCurrency    string          `json:"price_currency"`
	PayCurrency      string          `json:"pay_currency"`
	OrderID          string          `json:"order_id,omitempty"`
	OrderDescription string          `json:"order_description,omitempty"`
	IPNCallbackURL   string          `json:"ipn_callback_url,omitempty"`
}

// MarshalJSON sends price_amount as a JSON number.
func (r CreatePaymentRequest) MarshalJSON() ([]byte, error) {
	type alias CreatePaymentRequest
	return json.Marshal(struct {
		alias
		PriceAmount json.Number `json:"price_amount"`
	}{alias: alias(r), PriceAmount: json.Number(r.PriceAmount.String())})
}

// Payment is the gateway's view of a payment.
type Payment struct {
	PaymentID     PaymentID       `json:"payment_id"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PayAddress    string          `json:"pay_address"`
	PayAmount     decimal.Decimal `json:"pay_amount"`
	PayCurrency   string          `json:"pay_currency"`
	PriceAmount   decimal.Decimal `json:"price_amount"`
	PriceCurrency string          `json:"price_currency"`
	ActuallyPaid  decimal.Decimal `json:"actually_paid"`
	OrderID       string          `json:"order_id"`
}

// CreatePayment opens a payment for the requested amount.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	if !req.PriceAmount.IsPositive() {
		return nil, fmt.Errorf("nowpayments validation error: price_amount must be > 0")
	}
	if req.PriceCurrency == "" {
		req.PriceCurrency = "usd"
	}
	if req.PayCurrency == "" {
		req.PayCurrency = "usdttrc20"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("nowpayments request error: %w", err)
	}

	var p Payment
	// Creating a payment is not idempotent on the gateway side, so no retry.
	if err := c.do(ctx, http.MethodPost, "/payment", body, &p); err != nil {
		return nil, err
	}
	if p.PaymentID == "" {
		return nil, fmt.Errorf("nowpayments: response without payment_id")
	}
	return &p, nil
}

// GetPaymentStatus fetches the current state of a payment. Transient
// failures are retried with linear backoff.
func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (*Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, fmt.Errorf("nowpayments validation error: payment id is empty")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var p Payment
		err := c.do(ctx, http.MethodGet, "/payment/"+paymentID, nil, &p)
		if err == nil {
			return &p, nil
		}
		lastErr = err
		if !retryable(err) || attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	if c == nil || c.http == nil {
		return fmt.Errorf("nowpayments request error: client is nil")
	}
	if strings.TrimSpace(c.apiKey) == "" {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("nowpayments request error: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("nowpayments network error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("nowpayments read error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("nowpayments decode error: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
