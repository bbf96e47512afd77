package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"numbershop/internal/config"
)

// FiveSimClient talks to a 5sim-style activation API over HTTP.
// Every call is bearer-token authenticated and bounded by the configured
// per-call timeout. Non-2xx responses are classified into the package error
// taxonomy; blind retries happen only for idempotent reads.
type FiveSimClient struct {
	baseURL string
	apiKey  string
	http    *http.Client

	// readRetries bounds retry attempts for idempotent GET calls.
	readRetries int
	retryDelay  time.Duration
}

func NewFiveSimClient(cfg config.ProviderConfig) *FiveSimClient {
	return &FiveSimClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		http:        &http.Client{Timeout: cfg.CallTimeout},
		readRetries: 2,
		retryDelay:  500 * time.Millisecond,
	}
}

func (c *FiveSimClient) Name() string { return "5sim" }

/* ===================== READS ===================== */

func (c *FiveSimClient) ListServices(ctx context.Context) ([]string, error) {
	var body struct {
		Services map[string]json.RawMessage `json:"services"`
	}
	if err := c.getJSON(ctx, "/v1/services", &body); err != nil {
		return nil, err
	}
	return sortedKeys(body.Services), nil
}

func (c *FiveSimClient) ListCountries(ctx context.Context, service string) ([]string, error) {
	if service == "" {
		return nil, ErrInvalidParameters
	}
	var body struct {
		Countries map[string]json.RawMessage `json:"countries"`
	}
	if err := c.getJSON(ctx, "/v1/countries/"+service, &body); err != nil {
		return nil, err
	}
	return sortedKeys(body.Countries), nil
}

func (c *FiveSimClient) Status(ctx context.Context, ref string) (OrderStatus, error) {
	if ref == "" {
		return OrderStatus{}, ErrInvalidParameters
	}
	var body activationResponse
	if err := c.getJSON(ctx, "/v1/user/check/"+ref, &body); err != nil {
		return OrderStatus{}, err
	}
	return OrderStatus{
		Reference:   body.ID.String(),
		State:       State(body.Status),
		PhoneNumber: body.Phone,
		ExpiresAt:   body.Expires,
	}, nil
}

/* ===================== PURCHASE / CANCEL ===================== */

type activationResponse struct {
	ID      json.Number `json:"id"`
	Phone   string      `json:"phone"`
	Status  string      `json:"status"`
	Expires time.Time   `json:"expires"`
}

// Purchase allocates a number. Never retried here: a transport failure leaves
// the provider-side outcome unknown and is surfaced as ErrAmbiguousResult so
// the caller can reconcile instead of double-purchasing.
func (c *FiveSimClient) Purchase(ctx context.Context, req PurchaseRequest) (Order, error) {
	if req.Service == "" || req.Country == "" {
		return Order{}, ErrInvalidParameters
	}
	if req.Operator == "" {
		req.Operator = "any"
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/user/buy/activation", bytes.NewReader(payload))
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Request may or may not have reached the provider.
		return Order{}, fmt.Errorf("%w: %v", ErrAmbiguousResult, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		// Response lost mid-read; the purchase may have been booked.
		return Order{}, fmt.Errorf("%w: %v", ErrAmbiguousResult, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Order{}, classifyFailure(resp.StatusCode, raw)
	}

	var body activationResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		// 2xx with an unreadable body: a number may have been allocated.
		return Order{}, fmt.Errorf("%w: decode purchase response: %v", ErrAmbiguousResult, err)
	}
	if body.ID.String() == "" || body.Phone == "" {
		return Order{}, fmt.Errorf("%w: purchase response missing id/phone", ErrAmbiguousResult)
	}

	return Order{
		Reference:   body.ID.String(),
		PhoneNumber: body.Phone,
		ExpiresAt:   body.Expires,
	}, nil
}

func (c *FiveSimClient) Cancel(ctx context.Context, ref string) error {
	if ref == "" {
		return ErrInvalidParameters
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/user/cancel/"+ref, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrOrderNotFound
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: %s", ErrNotCancellable, strings.TrimSpace(string(raw)))
	}
	return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
}

/* ===================== INTERNAL ===================== */

func (c *FiveSimClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
}

// getJSON performs an idempotent GET with bounded retries on transport
// failures and 5xx responses.
func (c *FiveSimClient) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrProviderUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}

		retryable, err := c.getJSONOnce(ctx, path, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

func (c *FiveSimClient) getJSONOnce(ctx context.Context, path string, out any) (retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ferr := classifyFailure(resp.StatusCode, raw)
		return resp.StatusCode >= 500, ferr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}
	return false, nil
}

// classifyFailure maps a non-2xx provider response onto the error taxonomy.
// The provider reports stock exhaustion as a 400 with a well-known body.
func classifyFailure(status int, body []byte) error {
	msg := strings.ToLower(strings.TrimSpace(string(body)))
	switch {
	case status >= 500:
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, status)
	case status == http.StatusNotFound:
		return ErrOrderNotFound
	case strings.Contains(msg, "no free phones") || strings.Contains(msg, "out of stock"):
		return ErrOutOfStock
	default:
		return fmt.Errorf("%w: status %d: %s", ErrInvalidParameters, status, msg)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
