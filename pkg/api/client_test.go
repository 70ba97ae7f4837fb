package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quote-engine/internal/pricing"
)

const sessionID = "0b6f2a4e-8a51-4bde-9d6e-4f0a1c2b3d4e"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "secret", zap.NewNop())
}

func TestClient_Quote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/quotes" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Unexpected Authorization header %q", got)
		}

		var cfg pricing.ServiceConfiguration
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			t.Errorf("Decode failed: %v", err)
			return
		}
		if cfg.Rooms["bedroom"] != 2 {
			t.Errorf("Configuration not sent: %+v", cfg.Rooms)
		}
		_ = json.NewEncoder(w).Encode(Quote{
			Configuration: cfg,
			Result:        pricing.PriceResult{Total: decimal.RequireFromString("106.29")},
			Scheme:        pricing.SchemeServiceType,
		})
	})

	cfg := pricing.DefaultConfiguration(pricing.ServiceTypeRates())
	cfg.Rooms = map[string]int{"bedroom": 2}
	q, err := client.Quote(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if !q.Result.Total.Equal(decimal.RequireFromString("106.29")) {
		t.Errorf("Unexpected total %s", q.Result.Total)
	}
}

func TestClient_Session(t *testing.T) {
	var patched SessionPatch
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(Session{ID: sessionID})
		case r.Method == http.MethodPatch && r.URL.Path == "/v1/sessions/"+sessionID:
			if err := json.NewDecoder(r.Body).Decode(&patched); err != nil {
				t.Errorf("Decode failed: %v", err)
				return
			}
			_ = json.NewEncoder(w).Encode(Session{ID: sessionID, Quote: &Quote{TierUpgraded: true}})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions/"+sessionID+"/confirm":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "stale result"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/sessions/"+sessionID+"/receipt":
			if r.URL.Query().Get("format") != "text" {
				t.Errorf("Unexpected format %q", r.URL.Query().Get("format"))
			}
			_, _ = w.Write([]byte("Total 106.29\n"))
		default:
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	id, err := client.CreateSession(ctx)
	if err != nil || id != sessionID {
		t.Fatalf("CreateSession returned %q, %v", id, err)
	}

	tier := pricing.TierPremium
	s, err := client.PatchSession(ctx, id, SessionPatch{Rooms: map[string]int{"kitchen": 1}, Tier: &tier})
	if err != nil {
		t.Fatalf("PatchSession failed: %v", err)
	}
	if !s.Quote.TierUpgraded {
		t.Error("Response not decoded")
	}
	if patched.Tier == nil || *patched.Tier != pricing.TierPremium || patched.CleanlinessLevel != nil {
		t.Errorf("Patch sent unexpected fields: %+v", patched)
	}

	_, err = client.Confirm(ctx, id)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusConflict || statusErr.Message != "stale result" {
		t.Errorf("Expected 409 StatusError, got %v", err)
	}

	data, err := client.Receipt(ctx, id, "text")
	if err != nil || string(data) != "Total 106.29\n" {
		t.Errorf("Receipt returned %q, %v", data, err)
	}
}
