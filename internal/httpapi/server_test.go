package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quote-engine/internal/dispatch"
	"quote-engine/internal/pricing"
	"quote-engine/internal/session"
	"quote-engine/internal/tier"
	"quote-engine/pkg/api"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T, table pricing.RateTable, opts Options) *Server {
	t.Helper()
	evaluator, err := tier.NewEvaluator(table, tier.DefaultRules(table.Scheme()))
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	logger := zap.NewNop()
	d := dispatch.New(table, nil, 0, logger)
	sessions := session.New(nil, table, evaluator, time.Hour, logger)
	return NewServer(d, evaluator, sessions, opts, logger)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCapabilities(t *testing.T) {
	router := newServer(t, pricing.TieredRates(), Options{}).Router()

	rec := do(t, router, http.MethodGet, "/v1/capabilities", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Unexpected status %d", rec.Code)
	}
	caps := decode[api.Capabilities](t, rec)
	if caps.Scheme != pricing.SchemeTiered || caps.RateVersion != pricing.BuiltinVersion {
		t.Errorf("Unexpected rate table %s/%s", caps.Scheme, caps.RateVersion)
	}
	if caps.OffloadSupported {
		t.Error("Offload should be unsupported without an executor")
	}
	if len(caps.Tiers) != 3 || len(caps.Rules) == 0 {
		t.Errorf("Unexpected tiers %v or rules %d", caps.Tiers, len(caps.Rules))
	}
}

func TestCreateQuote(t *testing.T) {
	router := newServer(t, pricing.ServiceTypeRates(), Options{}).Router()

	tests := []struct {
		name   string
		body   string
		status int
		total  string
	}{
		{
			name:   "standard weekly billed monthly",
			body:   `{"rooms":{"bedroom":2,"bathroom":1},"cleanlinessLevel":2,"frequency":"weekly","paymentFrequency":"monthly"}`,
			status: http.StatusOK,
			total:  "106.29",
		},
		{
			name:   "with video recording",
			body:   `{"rooms":{"bedroom":2,"bathroom":1},"cleanlinessLevel":2,"frequency":"weekly","paymentFrequency":"monthly","videoRecording":true}`,
			status: http.StatusOK,
			total:  "81.29",
		},
		{
			name:   "cleanliness out of range",
			body:   `{"rooms":{"bedroom":1},"cleanlinessLevel":9}`,
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "unknown add-on",
			body:   `{"rooms":{"bedroom":1},"selectedAddOns":["gold_plating"]}`,
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "no rooms",
			body:   `{"rooms":{"bedroom":0},"cleanlinessLevel":2}`,
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "malformed body",
			body:   `{"rooms":`,
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/v1/quotes", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("Unexpected status %d: %s", rec.Code, rec.Body.String())
			}
			if tt.total == "" {
				return
			}
			q := decode[api.Quote](t, rec)
			if !q.Result.Total.Equal(decimal.RequireFromString(tt.total)) {
				t.Errorf("Incorrect total, got %s, want %s", q.Result.Total, tt.total)
			}
			if q.Offloaded {
				t.Error("Quote should not be offloaded without an executor")
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	router := newServer(t, pricing.TieredRates(), Options{}).Router()

	rec := do(t, router, http.MethodPost, "/v1/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("Unexpected status %d", rec.Code)
	}
	id := decode[api.Session](t, rec).ID
	base := "/v1/sessions/" + id

	rec = do(t, router, http.MethodGet, base, "")
	if got := decode[api.Session](t, rec); rec.Code != http.StatusOK || got.Quote != nil {
		t.Fatalf("New session should have no quote, got %d %+v", rec.Code, got)
	}

	rec = do(t, router, http.MethodPatch, base,
		`{"rooms":{"bedroom":2},"propertyAttributes":{"propertySizeSqFt":3500,"propertyType":"house"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Patch failed %d: %s", rec.Code, rec.Body.String())
	}
	patched := decode[api.Session](t, rec)
	if patched.Quote == nil {
		t.Fatal("Patched session has no quote")
	}
	if patched.Quote.Configuration.Tier != pricing.TierPremium || !patched.Quote.TierUpgraded {
		t.Errorf("Expected silent upgrade to premium, got %s upgraded=%v",
			patched.Quote.Configuration.Tier, patched.Quote.TierUpgraded)
	}

	rec = do(t, router, http.MethodPost, base+"/confirm", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Confirm failed %d: %s", rec.Code, rec.Body.String())
	}
	confirmed := decode[api.Session](t, rec)
	if !confirmed.Quote.Result.Total.Equal(patched.Quote.Result.Total) {
		t.Errorf("Confirmed total %s differs from preview %s",
			confirmed.Quote.Result.Total, patched.Quote.Result.Total)
	}

	rec = do(t, router, http.MethodGet, base+"/receipt", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Total") {
		t.Errorf("Unexpected text receipt %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodGet, base+"/receipt?format=xlsx", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != xlsxContentType {
		t.Errorf("Unexpected xlsx receipt %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	rec = do(t, router, http.MethodGet, base+"/receipt?format=pdf", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown format, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodDelete, base, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Checkout failed %d: %s", rec.Code, rec.Body.String())
	}
	final := decode[api.Session](t, rec)
	if final.Quote == nil || !final.Quote.Result.Total.Equal(patched.Quote.Result.Total) {
		t.Errorf("Checkout did not hand off the final quote: %+v", final.Quote)
	}

	rec = do(t, router, http.MethodDelete, base, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after checkout, got %d", rec.Code)
	}
}

func TestPatchSession_AppliesAtomically(t *testing.T) {
	router := newServer(t, pricing.TieredRates(), Options{}).Router()
	base := "/v1/sessions/" + decode[api.Session](t, do(t, router, http.MethodPost, "/v1/sessions", "")).ID

	rec := do(t, router, http.MethodPatch, base, `{"rooms":{"bedroom":2},"frequency":"hourly"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", rec.Code)
	}
	if got := decode[api.Session](t, do(t, router, http.MethodGet, base, "")); got.Quote != nil {
		t.Errorf("Rejected patch left a configuration behind: %+v", got.Quote.Configuration)
	}

	rec = do(t, router, http.MethodPatch, base, `{"serviceTier":"elite"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before any room is set, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPatch, base,
		`{"rooms":{"kitchen":1},"serviceTier":"elite","selectedExclusiveServices":["grout_restoration"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Patch failed %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[api.Session](t, rec)
	if len(got.Quote.Configuration.SelectedExclusiveServices) != 1 {
		t.Errorf("Exclusive service not kept: %v", got.Quote.Configuration.SelectedExclusiveServices)
	}
}

func TestSession_InvalidID(t *testing.T) {
	router := newServer(t, pricing.TieredRates(), Options{}).Router()
	rec := do(t, router, http.MethodGet, "/v1/sessions/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

type countingLimiter struct {
	calls int64
	keys  []string
	err   error
}

func (l *countingLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	l.calls++
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, l.err
	}
	return l.calls <= limit, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{}
	router := newServer(t, pricing.TieredRates(), Options{Limiter: limiter, Limit: 2, Window: time.Minute}).Router()

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		if rec := do(t, router, http.MethodGet, "/v1/capabilities", ""); rec.Code != want {
			t.Errorf("Request %d: got %d, want %d", i, rec.Code, want)
		}
	}

	// health checks are never limited
	if rec := do(t, router, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("Health check limited: %d", rec.Code)
	}

	failing := &countingLimiter{err: errors.New("connection refused")}
	router = newServer(t, pricing.TieredRates(), Options{Limiter: failing, Limit: 1, Window: time.Minute}).Router()
	if rec := do(t, router, http.MethodGet, "/v1/capabilities", ""); rec.Code != http.StatusOK {
		t.Errorf("Limiter failure should not reject requests, got %d", rec.Code)
	}
}

func TestQuoteBodyRoundTrip(t *testing.T) {
	router := newServer(t, pricing.ServiceTypeRates(), Options{}).Router()

	cfg := pricing.DefaultConfiguration(pricing.ServiceTypeRates())
	cfg.Rooms = map[string]int{"kitchen": 1, "living_room": 1}
	cfg.Tier = pricing.TierDetailing
	cfg.CleanlinessLevel = pricing.CleanlinessHeavy
	body, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/quotes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	q := decode[api.Quote](t, rec)
	if !q.Result.Total.Equal(decimal.RequireFromString("428.10")) {
		t.Errorf("Incorrect total, got %s, want 428.10", q.Result.Total)
	}
}

func TestRateLimit_KeysOnPeerAddress(t *testing.T) {
	tests := []struct {
		name    string
		proxies []string
		want    string
	}{
		{name: "direct", proxies: nil, want: "192.0.2.10"},
		{name: "behind trusted proxy", proxies: []string{"192.0.2.10"}, want: "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &countingLimiter{}
			router := newServer(t, pricing.TieredRates(), Options{
				Limiter:        limiter,
				Limit:          10,
				Window:         time.Minute,
				TrustedProxies: tt.proxies,
			}).Router()

			req := httptest.NewRequest(http.MethodGet, "/v1/capabilities", nil)
			req.RemoteAddr = "192.0.2.10:4711"
			req.Header.Set("X-Forwarded-For", "203.0.113.7")
			router.ServeHTTP(httptest.NewRecorder(), req)

			if len(limiter.keys) != 1 || limiter.keys[0] != tt.want {
				t.Errorf("Limited on %v, want %s", limiter.keys, tt.want)
			}
		})
	}
}

func TestPatchSession_RejectedIDs(t *testing.T) {
	router := newServer(t, pricing.TieredRates(), Options{}).Router()
	for i := 0; i < 50; i++ {
		rec := do(t, router, http.MethodPatch, "/v1/sessions/junk-"+strings.Repeat("x", i), `{"rooms":{"bedroom":1}}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400 for a malformed id, got %d", rec.Code)
		}
	}
}

func TestPatchSession_ConcurrentPatchesSerialize(t *testing.T) {
	router := newServer(t, pricing.TieredRates(), Options{}).Router()
	base := "/v1/sessions/" + decode[api.Session](t, do(t, router, http.MethodPost, "/v1/sessions", "")).ID

	rooms := []string{"bedroom", "bathroom", "kitchen", "garage", "office", "laundry_room"}
	var wg sync.WaitGroup
	for _, room := range rooms {
		wg.Add(1)
		go func(room string) {
			defer wg.Done()
			if rec := do(t, router, http.MethodPatch, base, `{"rooms":{"`+room+`":1}}`); rec.Code != http.StatusOK {
				t.Errorf("Patch %s failed %d: %s", room, rec.Code, rec.Body.String())
			}
		}(room)
	}
	wg.Wait()

	got := decode[api.Session](t, do(t, router, http.MethodGet, base, ""))
	if got.Quote == nil || len(got.Quote.Configuration.Rooms) != len(rooms) {
		t.Fatalf("Lost updates, got %+v", got.Quote)
	}
}
