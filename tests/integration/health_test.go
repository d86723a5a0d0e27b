package integration

import (
	"net/http"
	"testing"
	"time"
)

// TestServiceHealthy checks the /health/live and /health/ready endpoints.
// If the service is unreachable, the test is skipped (not failed), allowing
// the suite to run in environments where the stack is not up.
func TestServiceHealthy(t *testing.T) {
	client := &http.Client{Timeout: 3 * time.Second}

	for _, endpoint := range []string{"/health/live", "/health/ready"} {
		t.Run(endpoint, func(t *testing.T) {
			resp, err := client.Get(baseURL(fulfillmentPort) + endpoint)
			if err != nil {
				t.Skipf("fulfillment service on port %d not reachable: %v", fulfillmentPort, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("%s returned %d, want 200", endpoint, resp.StatusCode)
			}
		})
	}
}
