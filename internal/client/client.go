// Package client holds the HTTP clients for the fulfillment platform's
// remote collaborators. Every client goes through a shared httpclient.Doer
// (the circuit-breaker client in production, a plain client or httptest
// double in tests) and maps non-2xx responses with ParseResponseError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/earlyexpress/order-fulfillment/pkg/httpclient"
)

// postJSON marshals reqBody, POSTs it to url, and decodes a 2xx response
// into out (skipped when out is nil). Non-2xx responses are translated by
// httpclient.ParseResponseError under the given service name.
func postJSON(ctx context.Context, doer httpclient.Doer, url, serviceName string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", serviceName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", serviceName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := doer.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("call %s: %w", serviceName, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", serviceName, err)
	}
	return nil
}
