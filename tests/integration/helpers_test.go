package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"testing"
	"time"
)

// fulfillmentPort is where docker-compose exposes the fulfillment service.
const fulfillmentPort = 8011

// baseURL returns the base URL for a service running on the given port.
func baseURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}

// uniqueUUID generates a deterministic-looking UUID v4 for test data.
// This uses a simple random approach; not cryptographically secure but fine for tests.
func uniqueUUID() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // variant 10
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// skipIfNotRunning performs a quick health check against a service.
// If the service is unreachable, the test is skipped (not failed).
func skipIfNotRunning(t *testing.T, port int) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL(port) + "/health/live")
	if err != nil {
		t.Skipf("service on port %d not reachable (Docker not running?): %v", port, err)
	}
	resp.Body.Close()
}

// httpGet performs an HTTP GET request and returns the status code and decoded JSON body.
func httpGet(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

// httpPost performs an HTTP POST request with a JSON body.
func httpPost(t *testing.T, url string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling request body failed: %v", err)
		}
		bodyReader = bytes.NewReader(jsonBytes)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(http.MethodPost, url, bodyReader)
	if err != nil {
		t.Fatalf("creating POST request for %s failed: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

// decodeBody reads the response body and attempts to decode it as JSON.
// If the body is empty or not JSON, it returns an empty map.
func decodeBody(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading response body failed: %v", err)
	}
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		// Not JSON; return the raw string in a "raw" key for debugging.
		return map[string]interface{}{"raw": string(raw)}
	}
	return result
}

// requireStatus asserts that the HTTP status code matches the expected value.
func requireStatus(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Fatalf("expected status %d, got %d", want, got)
	}
}

// extractField extracts a value from a nested map using a dot-separated path.
// For example, extractField(data, "data.order_number") navigates
// data["data"]["order_number"].
func extractField(data map[string]interface{}, path string) interface{} {
	parts := strings.Split(path, ".")
	var current interface{} = data
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// extractString extracts a string value from a nested map, failing the test
// when the path is missing or not a string.
func extractString(t *testing.T, data map[string]interface{}, path string) string {
	t.Helper()
	v := extractField(data, path)
	s, ok := v.(string)
	if !ok {
		t.Fatalf("expected string at %s, got %T (%v)", path, v, v)
	}
	return s
}

// createOrderBody returns a valid order creation request. Downstream services
// seeded by docker-compose accept any product and hub IDs, so random UUIDs
// keep test runs independent.
func createOrderBody() map[string]interface{} {
	return map[string]interface{}{
		"supplier_company_id": uniqueUUID(),
		"receiver_company_id": uniqueUUID(),
		"product_id":          uniqueUUID(),
		"product_name":        "Integration Widget",
		"quantity":            2,
		"unit_price":          15000,
		"receiver_name":       "Integration Receiver",
		"receiver_phone":      "+821055554444",
		"address": map[string]interface{}{
			"line":        "77 Dockside Ave",
			"city":        "Incheon",
			"postal_code": "21554",
			"country":     "KR",
		},
		"pg_provider": "toss",
		"payment_id":  "pay-" + uniqueUUID(),
		"payment_key": "pk-" + uniqueUUID(),
	}
}

// waitForOrderStatus polls the order until it reaches one of the wanted
// statuses or the deadline passes, returning the last observed status. The
// delivery steps run asynchronously off the payment-verified event, so tests
// that assert on post-payment statuses must poll.
func waitForOrderStatus(t *testing.T, orderID string, deadline time.Duration, want ...string) string {
	t.Helper()
	wanted := make(map[string]bool, len(want))
	for _, s := range want {
		wanted[s] = true
	}

	var last string
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		status, data := httpGet(t, baseURL(fulfillmentPort)+"/api/v1/orders/"+orderID)
		if status == http.StatusOK {
			last = extractString(t, data, "data.status")
			if wanted[last] {
				return last
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return last
}
