package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"numbershop/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*FiveSimClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewFiveSimClient(config.ProviderConfig{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		CallTimeout: 2 * time.Second,
	})
	c.readRetries = 0
	c.retryDelay = 0
	return c, srv
}

func TestListServices(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/services" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"services":{"telegram":{},"whatsapp":{}}}`))
	})

	names, err := c.ListServices(context.Background())
	if err != nil {
		t.Fatalf("list services: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if len(names) != 2 || names[0] != "telegram" || names[1] != "whatsapp" {
		t.Fatalf("unexpected services: %v", names)
	}
}

func TestPurchase_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/user/buy/activation" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"id":1234567,"phone":"+79001234567","status":"PENDING","expires":"2026-01-02T15:04:05Z"}`))
	})

	order, err := c.Purchase(context.Background(), PurchaseRequest{Service: "telegram", Country: "russia"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if order.Reference != "1234567" {
		t.Fatalf("expected reference 1234567, got %q", order.Reference)
	}
	if order.PhoneNumber != "+79001234567" {
		t.Fatalf("unexpected phone %q", order.PhoneNumber)
	}
	if order.ExpiresAt.IsZero() {
		t.Fatal("expected expiry to be set")
	}
}

func TestPurchase_OutOfStock(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("no free phones"))
	})

	_, err := c.Purchase(context.Background(), PurchaseRequest{Service: "telegram", Country: "russia"})
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
}

func TestPurchase_ServerErrorIsUnavailable(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Purchase(context.Background(), PurchaseRequest{Service: "telegram", Country: "russia"})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestPurchase_TransportFailureIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewFiveSimClient(config.ProviderConfig{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		CallTimeout: time.Second,
	})

	_, err := c.Purchase(context.Background(), PurchaseRequest{Service: "telegram", Country: "russia"})
	if !errors.Is(err, ErrAmbiguousResult) {
		t.Fatalf("expected ErrAmbiguousResult, got %v", err)
	}
}

func TestStatus_MapsStates(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/user/check/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":42,"phone":"+79001234567","status":"RECEIVED","expires":"2026-01-02T15:04:05Z"}`))
	})

	st, err := c.Status(context.Background(), "42")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != StateReceived {
		t.Fatalf("expected RECEIVED, got %s", st.State)
	}
	if !st.State.Allocated() {
		t.Fatal("RECEIVED should count as allocated")
	}
}

func TestStatus_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Status(context.Background(), "42")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancel_RefusedMapsToNotCancellable(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("order has sms"))
	})

	err := c.Cancel(context.Background(), "42")
	if !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestCancel_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/user/cancel/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":42,"status":"CANCELED"}`))
	})

	if err := c.Cancel(context.Background(), "42"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"services":{"telegram":{}}}`))
	})
	c.readRetries = 2

	names, err := c.ListServices(context.Background())
	if err != nil {
		t.Fatalf("list services: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(names) != 1 || names[0] != "telegram" {
		t.Fatalf("unexpected services: %v", names)
	}
}

func TestGetJSON_NoRetryOnClientError(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad country"))
	})
	c.readRetries = 2

	_, err := c.ListCountries(context.Background(), "telegram")
	if !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("client errors must not be retried, got %d attempts", calls)
	}
}
