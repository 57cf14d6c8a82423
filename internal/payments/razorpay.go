package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRazorpayBaseURL = "https://api.razorpay.com"
	razorpayReceiptLimit   = 40
	razorpayErrorBodyLimit = 4 << 10
)

// RazorpayConfig configures the RazorpayProvider.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	BaseURL       string
	ReceiptPrefix string
	HTTPClient    *http.Client
	Logger        Logger
}

// RazorpayProvider implements Provider against the Razorpay Orders API. The client opens the
// hosted checkout with the order id and key id and posts back a signed success callback.
type RazorpayProvider struct {
	keyID         string
	keySecret     string
	baseURL       string
	receiptPrefix string
	http          *http.Client
	logger        Logger
}

// NewRazorpayProvider validates the credentials and constructs the provider.
func NewRazorpayProvider(cfg RazorpayConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay: key id and key secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("razorpay: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RazorpayProvider{
		keyID:         keyID,
		keySecret:     keySecret,
		baseURL:       baseURL,
		receiptPrefix: cfg.ReceiptPrefix,
		http:          httpClient,
		logger:        logger,
	}, nil
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
}

type razorpayErrorEnvelope struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a Razorpay order for the amount in paise.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req OrderRequest) (ProviderOrder, error) {
	if p == nil {
		return ProviderOrder{}, errors.New("razorpay: provider is nil")
	}
	if req.Amount <= 0 {
		return ProviderOrder{}, errors.New("razorpay: amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}
	body := map[string]any{
		"amount":   req.Amount,
		"currency": currency,
		"receipt":  p.receipt(req.Receipt),
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var order razorpayOrder
	if err := p.do(ctx, http.MethodPost, "/v1/orders", body, req.IdempotencyKey, &order); err != nil {
		return ProviderOrder{}, err
	}
	p.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"razorpayOrderId": order.ID,
		"amount":          order.Amount,
		"receipt":         order.Receipt,
	})
	return ProviderOrder{
		Provider:        ProviderRazorpay,
		ProviderOrderID: order.ID,
		Amount:          order.Amount,
		Currency:        order.Currency,
		PublicKey:       p.keyID,
		Status:          order.Status,
	}, nil
}

// VerifyPayment checks the callback signature and then confirms the payment state with Razorpay.
func (p *RazorpayProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}
	orderID := strings.TrimSpace(req.ProviderOrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	if orderID == "" || paymentID == "" {
		return PaymentDetails{}, errors.New("razorpay: order id and payment id are required")
	}
	if !p.ValidSignature(orderID, paymentID, req.Signature) {
		p.logger(ctx, "payments.razorpay.signature_mismatch", map[string]any{
			"razorpayOrderId": orderID,
			"paymentId":       paymentID,
		})
		return PaymentDetails{}, ErrSignatureMismatch
	}

	var payment razorpayPayment
	if err := p.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, "", &payment); err != nil {
		return PaymentDetails{}, err
	}
	if payment.OrderID != "" && payment.OrderID != orderID {
		return PaymentDetails{}, fmt.Errorf("%w: payment belongs to order %s", ErrSignatureMismatch, payment.OrderID)
	}

	details := PaymentDetails{
		Provider:        ProviderRazorpay,
		PaymentID:       payment.ID,
		ProviderOrderID: orderID,
		Status:          razorpayStatus(payment.Status),
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Method:          payment.Method,
	}
	if details.Status != StatusSucceeded {
		return details, fmt.Errorf("%w: payment status %s", ErrPaymentNotCompleted, payment.Status)
	}
	return details, nil
}

// ValidSignature reports whether signature is the hex HMAC-SHA256 of "orderID|paymentID".
func (p *RazorpayProvider) ValidSignature(orderID, paymentID, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	expected, err := hex.DecodeString(p.sign(orderID, paymentID))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

func (p *RazorpayProvider) sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(p.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *RazorpayProvider) receipt(ref string) string {
	receipt := p.receiptPrefix + strings.TrimSpace(ref)
	if len(receipt) > razorpayReceiptLimit {
		receipt = receipt[:razorpayReceiptLimit]
	}
	return receipt
}

func (p *RazorpayProvider) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	op := strings.ToLower(method) + " " + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &ProviderError{Provider: ProviderRazorpay, Op: op, Err: err}
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return &ProviderError{Provider: ProviderRazorpay, Op: op, Err: err}
	}
	req.SetBasicAuth(p.keyID, p.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("X-Idempotency-Key", key)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return &ProviderError{Provider: ProviderRazorpay, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, razorpayErrorBodyLimit))
		perr := &ProviderError{
			Provider:   ProviderRazorpay,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
		var envelope razorpayErrorEnvelope
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
			perr.Code = envelope.Error.Code
			perr.Err = errors.New(envelope.Error.Description)
		}
		return perr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: ProviderRazorpay, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func razorpayStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "captured", "authorized":
		return StatusSucceeded
	case "failed", "refunded":
		return StatusFailed
	default:
		return StatusPending
	}
}
