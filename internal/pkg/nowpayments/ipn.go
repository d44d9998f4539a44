package nowpayments

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries the IPN signature.
const SignatureHeader = "x-nowpayments-sig"

var (
	ErrMissingSignature = errors.New("nowpayments: missing ipn signature")
	ErrInvalidSignature = errors.New("nowpayments: invalid ipn signature")
	ErrMalformedIPN     = errors.New("nowpayments: malformed ipn")
)

// IPN is an instant payment notification.
type IPN struct {
	PaymentID     PaymentID       `json:"payment_id"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PayAddress    string          `json:"pay_address"`
	PriceAmount   decimal.Decimal `json:"price_amount"`
	PriceCurrency string          `json:"price_currency"`
	PayAmount     decimal.Decimal `json:"pay_amount"`
	ActuallyPaid  decimal.Decimal `json:"actually_paid"`
	PayCurrency   string          `json:"pay_currency"`
	OrderID       string          `json:"order_id"`
}

// SortedBody re-encodes a JSON object with keys sorted at every depth,
// which is the form the gateway signs.
func SortedBody(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v map[string]interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIPN, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("nowpayments: encode ipn: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign computes the hex HMAC-SHA512 of the sorted body.
func Sign(body []byte, secret string) (string, error) {
	sorted, err := SortedBody(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(sorted)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyIPN checks the signature and parses the notification.
func VerifyIPN(body []byte, signature, secret string) (*IPN, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, ErrMissingSignature
	}
	if secret == "" {
		return nil, fmt.Errorf("nowpayments config error: ipn secret is empty")
	}

	expected, err := Sign(body, secret)
	if err != nil {
		return nil, err
	}
	got := strings.ToLower(strings.TrimSpace(signature))
	if !hmac.Equal([]byte(expected), []byte(got)) {
		return nil, ErrInvalidSignature
	}

	var ipn IPN
	if err := json.Unmarshal(body, &ipn); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIPN, err)
	}
	if ipn.PaymentID == "" {
		return nil, fmt.Errorf("%w: missing payment_id", ErrMalformedIPN)
	}
	return &ipn, nil
}
