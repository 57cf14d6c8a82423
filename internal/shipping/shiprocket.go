package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	defaultShiprocketBaseURL = "https://apiv2.shiprocket.in"
	defaultParcelWeightKg    = 0.5
	defaultRequestsPerSecond = 5
	// Shiprocket tokens are valid for ten days; refresh well before that.
	defaultTokenTTL = 24 * time.Hour
	errorBodyLimit  = 4 << 10
	loginFlightKey  = "login"
)

var (
	// ErrUnauthorized indicates Shiprocket rejected the configured credentials.
	ErrUnauthorized = errors.New("shiprocket: unauthorized")
)

// Logger mirrors the structured logger used across services.
type Logger func(ctx context.Context, event string, fields map[string]any)

// APIError describes a non-success Shiprocket response.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("shiprocket: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("shiprocket: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Config configures the Shiprocket client.
type Config struct {
	BaseURL           string
	Email             string
	Password          string
	OriginPincode     string
	ParcelWeightKg    float64
	RequestsPerSecond int
	TokenTTL          time.Duration
	HTTPClient        *http.Client
	Clock             func() time.Time
	Logger            Logger
}

// Result is the courier availability for one delivery pincode.
type Result struct {
	Pincode     string
	Deliverable bool
	Couriers    int
}

// ShiprocketClient checks courier serviceability. Login tokens are cached and concurrent
// refreshes collapse into a single request.
type ShiprocketClient struct {
	baseURL  string
	email    string
	password string
	origin   string
	weight   float64
	tokenTTL time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	flight   singleflight.Group
	now      func() time.Time
	logger   Logger

	mu       sync.RWMutex
	token    string
	tokenExp time.Time
}

// NewShiprocketClient validates cfg and constructs a client.
func NewShiprocketClient(cfg Config) (*ShiprocketClient, error) {
	email := strings.TrimSpace(cfg.Email)
	if email == "" || cfg.Password == "" {
		return nil, errors.New("shiprocket: email and password are required")
	}
	origin := strings.TrimSpace(cfg.OriginPincode)
	if origin == "" {
		return nil, errors.New("shiprocket: origin pincode is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultShiprocketBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("shiprocket: invalid base url: %w", err)
	}
	weight := cfg.ParcelWeightKg
	if weight <= 0 {
		weight = defaultParcelWeightKg
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ShiprocketClient{
		baseURL:  baseURL,
		email:    email,
		password: cfg.Password,
		origin:   origin,
		weight:   weight,
		tokenTTL: ttl,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		now:      clock,
		logger:   logger,
	}, nil
}

type serviceabilityResponse struct {
	Status int `json:"status"`
	Data   struct {
		AvailableCourierCompanies []json.RawMessage `json:"available_courier_companies"`
	} `json:"data"`
	Message string `json:"message"`
}

// Serviceability reports whether at least one courier delivers from the origin to pincode.
// The pincode must already be normalised to six digits.
func (c *ShiprocketClient) Serviceability(ctx context.Context, pincode string) (Result, error) {
	if c == nil {
		return Result{}, errors.New("shiprocket: client is nil")
	}
	result, err := c.serviceability(ctx, pincode)
	if errors.Is(err, ErrUnauthorized) {
		// Token revoked before its local expiry; drop it and retry once.
		c.invalidate()
		result, err = c.serviceability(ctx, pincode)
	}
	return result, err
}

func (c *ShiprocketClient) serviceability(ctx context.Context, pincode string) (Result, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return Result{}, err
	}

	query := url.Values{}
	query.Set("pickup_postcode", c.origin)
	query.Set("delivery_postcode", pincode)
	query.Set("weight", strconv.FormatFloat(c.weight, 'f', -1, 64))
	query.Set("cod", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/external/courier/serviceability/?"+query.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("shiprocket: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	var payload serviceabilityResponse
	status, err := c.do(req, "serviceability", &payload)
	if err != nil {
		return Result{}, err
	}

	// The body carries its own status; a 404 there means no courier covers the pincode.
	bodyStatus := payload.Status
	if bodyStatus == 0 {
		bodyStatus = status
	}
	couriers := len(payload.Data.AvailableCourierCompanies)
	result := Result{
		Pincode:     pincode,
		Deliverable: bodyStatus == http.StatusOK && couriers > 0,
		Couriers:    couriers,
	}
	c.logger(ctx, "shipping.serviceability", map[string]any{
		"pincode":     pincode,
		"deliverable": result.Deliverable,
		"couriers":    couriers,
	})
	return result, nil
}

func (c *ShiprocketClient) authToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, exp := c.token, c.tokenExp
	c.mu.RUnlock()
	if token != "" && c.now().Before(exp) {
		return token, nil
	}

	v, err, _ := c.flight.Do(loginFlightKey, func() (any, error) {
		return c.login(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *ShiprocketClient) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return "", fmt.Errorf("shiprocket: encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/external/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("shiprocket: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var payload struct {
		Token string `json:"token"`
	}
	if _, err := c.do(req, "login", &payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.Token) == "" {
		return "", fmt.Errorf("%w: login returned no token", ErrUnauthorized)
	}

	c.mu.Lock()
	c.token = payload.Token
	c.tokenExp = c.now().Add(c.tokenTTL)
	c.mu.Unlock()
	c.logger(ctx, "shipping.login", nil)
	return payload.Token, nil
}

func (c *ShiprocketClient) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
}

func (c *ShiprocketClient) do(req *http.Request, op string, out any) (int, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return 0, fmt.Errorf("shiprocket: %s: %w", op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("shiprocket: %s: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
		return resp.StatusCode, fmt.Errorf("%w: %s", ErrUnauthorized, op)
	case resp.StatusCode == http.StatusNotFound && op == "serviceability":
		// Shiprocket answers 404 when no courier serves the pincode.
		if err := json.NewDecoder(io.LimitReader(resp.Body, errorBodyLimit)).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("shiprocket: %s: decode: %w", op, err)
		}
		return resp.StatusCode, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		var envelope struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &envelope)
		return resp.StatusCode, &APIError{Op: op, StatusCode: resp.StatusCode, Message: envelope.Message}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("shiprocket: %s: decode: %w", op, err)
	}
	return resp.StatusCode, nil
}
