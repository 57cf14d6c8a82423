package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShiprocket struct {
	logins    atomic.Int32
	token     string
	couriers  int
	status    int
	lastQuery map[string]string
	mu        sync.Mutex
}

func (f *fakeShiprocket) currentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeShiprocket) rotate(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeShiprocket) query(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery[key]
}

func (f *fakeShiprocket) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["email"] != "ops@example.com" || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": f.currentToken()})
	})
	mux.HandleFunc("/v1/external/courier/serviceability/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.currentToken() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.lastQuery = map[string]string{
			"pickup":   r.URL.Query().Get("pickup_postcode"),
			"delivery": r.URL.Query().Get("delivery_postcode"),
			"weight":   r.URL.Query().Get("weight"),
		}
		f.mu.Unlock()
		companies := make([]map[string]any, f.couriers)
		for i := range companies {
			companies[i] = map[string]any{"courier_name": "courier"}
		}
		status := f.status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"data":   map[string]any{"available_courier_companies": companies},
		})
	})
	return mux
}

func newTestClient(t *testing.T, baseURL string) *ShiprocketClient {
	t.Helper()
	client, err := NewShiprocketClient(Config{
		BaseURL:           baseURL,
		Email:             "ops@example.com",
		Password:          "secret",
		OriginPincode:     "110092",
		RequestsPerSecond: 100,
	})
	require.NoError(t, err)
	return client
}

func TestServiceabilityDeliverable(t *testing.T) {
	fake := &fakeShiprocket{token: "tok-1", couriers: 3}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.Serviceability(context.Background(), "560001")
	require.NoError(t, err)

	assert.True(t, result.Deliverable)
	assert.Equal(t, 3, result.Couriers)
	assert.Equal(t, "110092", fake.query("pickup"))
	assert.Equal(t, "560001", fake.query("delivery"))
	assert.Equal(t, "0.5", fake.query("weight"))
}

func TestServiceabilityNoCouriers(t *testing.T) {
	fake := &fakeShiprocket{token: "tok-1"}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Serviceability(context.Background(), "999999")
	require.NoError(t, err)
	assert.False(t, result.Deliverable)
}

func TestServiceabilityNotFoundIsUndeliverable(t *testing.T) {
	fake := &fakeShiprocket{token: "tok-1", couriers: 1, status: http.StatusNotFound}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Serviceability(context.Background(), "999999")
	require.NoError(t, err)
	assert.False(t, result.Deliverable)
}

func TestServiceabilityReusesToken(t *testing.T) {
	fake := &fakeShiprocket{token: "tok-1", couriers: 1}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Serviceability(context.Background(), "560001")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	_, err := client.Serviceability(context.Background(), "560002")
	require.NoError(t, err)

	assert.LessOrEqual(t, fake.logins.Load(), int32(8))
	before := fake.logins.Load()
	_, err = client.Serviceability(context.Background(), "560003")
	require.NoError(t, err)
	assert.Equal(t, before, fake.logins.Load())
}

func TestServiceabilityRefreshesExpiredToken(t *testing.T) {
	fake := &fakeShiprocket{token: "tok-1", couriers: 1}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	client, err := NewShiprocketClient(Config{
		BaseURL:       srv.URL,
		Email:         "ops@example.com",
		Password:      "secret",
		OriginPincode: "110092",
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return now },
	})
	require.NoError(t, err)

	_, err = client.Serviceability(context.Background(), "560001")
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)
	_, err = client.Serviceability(context.Background(), "560001")
	require.NoError(t, err)

	assert.Equal(t, int32(2), fake.logins.Load())
}

func TestServiceabilityRetriesAfterRevokedToken(t *testing.T) {
	fake := &fakeShiprocket{token: "tok-1", couriers: 1}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Serviceability(context.Background(), "560001")
	require.NoError(t, err)

	fake.rotate("tok-2")
	result, err := client.Serviceability(context.Background(), "560001")
	require.NoError(t, err)
	assert.True(t, result.Deliverable)
	assert.Equal(t, int32(2), fake.logins.Load())
}

func TestLoginRejected(t *testing.T) {
	fake := &fakeShiprocket{token: "tok-1"}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client, err := NewShiprocketClient(Config{
		BaseURL:       srv.URL,
		Email:         "ops@example.com",
		Password:      "wrong",
		OriginPincode: "110092",
	})
	require.NoError(t, err)

	_, err = client.Serviceability(context.Background(), "560001")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewShiprocketClientRequiresCredentials(t *testing.T) {
	_, err := NewShiprocketClient(Config{OriginPincode: "110092"})
	assert.Error(t, err)
	_, err = NewShiprocketClient(Config{Email: "a@b.c", Password: "x"})
	assert.Error(t, err)
}
