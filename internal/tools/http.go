package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPInvoker implements [Invoker] over plain HTTP JSON endpoints.
//
// Each invocation is a POST of the argument object to the action's endpoint.
// 2xx responses carry a JSON result object; 4xx responses are permanent
// failures; 5xx, timeouts, and connection errors are transient. Rollback
// POSTs {args, result} to the endpoint with a "/rollback" suffix.
type HTTPInvoker struct {
	client *http.Client

	// endpoints overrides Action.Endpoint per action ID, typically from
	// configuration.
	endpoints map[string]string
}

var _ Invoker = (*HTTPInvoker)(nil)

// HTTPInvokerOption configures an [HTTPInvoker].
type HTTPInvokerOption func(*HTTPInvoker)

// WithHTTPClient replaces the default client. The default applies a
// 10 second timeout.
func WithHTTPClient(c *http.Client) HTTPInvokerOption {
	return func(i *HTTPInvoker) { i.client = c }
}

// WithEndpoints overrides action endpoints by action ID.
func WithEndpoints(endpoints map[string]string) HTTPInvokerOption {
	return func(i *HTTPInvoker) { i.endpoints = endpoints }
}

// WithTimeout sets the per-request timeout on the default client.
func WithTimeout(d time.Duration) HTTPInvokerOption {
	return func(i *HTTPInvoker) { i.client.Timeout = d }
}

// NewHTTPInvoker creates an HTTP invoker.
func NewHTTPInvoker(opts ...HTTPInvokerOption) *HTTPInvoker {
	inv := &HTTPInvoker{
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke implements [Invoker].
func (i *HTTPInvoker) Invoke(ctx context.Context, action Action, args map[string]any) (map[string]any, error) {
	endpoint := i.endpoint(action)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: action %s has no endpoint configured", ErrPermanent, action.ID)
	}
	return i.post(ctx, action.ID, endpoint, args)
}

// Rollback implements [Invoker].
func (i *HTTPInvoker) Rollback(ctx context.Context, action Action, args, result map[string]any) error {
	endpoint := i.endpoint(action)
	if endpoint == "" {
		return fmt.Errorf("%w: action %s has no endpoint configured", ErrPermanent, action.ID)
	}
	_, err := i.post(ctx, action.ID, endpoint+"/rollback", map[string]any{
		"args":   args,
		"result": result,
	})
	return err
}

func (i *HTTPInvoker) endpoint(action Action) string {
	if ep, ok := i.endpoints[action.ID]; ok {
		return ep
	}
	return action.Endpoint
}

func (i *HTTPInvoker) post(ctx context.Context, actionID, url string, body map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal arguments for %s: %v", ErrPermanent, actionID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request for %s: %v", ErrPermanent, actionID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		// Timeouts, DNS failures, and connection resets are all worth a retry.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: call %s: %v", ErrTransient, actionID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response from %s: %v", ErrTransient, actionID, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result := map[string]any{}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &result); err != nil {
				return nil, fmt.Errorf("%w: %s returned malformed JSON: %v", ErrPermanent, actionID, err)
			}
		}
		return result, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrPermanent, actionID, resp.StatusCode, truncate(data, 200))
	default:
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrTransient, actionID, resp.StatusCode, truncate(data, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "…"
	}
	return string(b)
}
