// Package main implements a standalone load generator that drives the
// fulfillment service with realistic order traffic. It creates orders over
// HTTP, polls each one until its saga reaches a terminal state, and prints
// the outcome distribution and latency profile. Cancel traffic can be mixed
// in to exercise the compensation path.
//
// Run: go run ./scripts/loadgen
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Configuration helpers
// --------------------------------------------------------------------------

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// --------------------------------------------------------------------------
// HTTP helpers
// --------------------------------------------------------------------------

func httpPost(url string, body any) (int, map[string]any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var result map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("unmarshal response: %s", string(respBody))
		}
	}
	return resp.StatusCode, result, nil
}

func httpGet(url string) (int, map[string]any, error) {
	resp, err := http.DefaultClient.Get(url)
	if err != nil {
		return 0, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var result map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("unmarshal response: %s", string(respBody))
		}
	}
	return resp.StatusCode, result, nil
}

func field(data map[string]any, keys ...string) any {
	var current any = data
	for _, k := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[k]
	}
	return current
}

// --------------------------------------------------------------------------
// Order generation
// --------------------------------------------------------------------------

var productNames = []string{
	"Pallet jack", "Forklift battery", "Shrink wrap roll", "Conveyor belt",
	"Hand truck", "Packing tape case", "Label printer", "Dock bumper",
	"Safety vest box", "Scanner cradle",
}

var cities = []struct {
	name   string
	postal string
}{
	{"Seoul", "04524"},
	{"Busan", "48058"},
	{"Incheon", "21554"},
	{"Daegu", "41911"},
	{"Gwangju", "61475"},
}

func randomOrder() map[string]any {
	city := cities[rand.Intn(len(cities))]
	return map[string]any{
		"supplier_company_id": uuid.NewString(),
		"receiver_company_id": uuid.NewString(),
		"product_id":          uuid.NewString(),
		"product_name":        productNames[rand.Intn(len(productNames))],
		"quantity":            1 + rand.Intn(20),
		"unit_price":          int64(1000 * (1 + rand.Intn(500))),
		"receiver_name":       fmt.Sprintf("Receiver %03d", rand.Intn(1000)),
		"receiver_phone":      fmt.Sprintf("+8210%08d", rand.Intn(100000000)),
		"address": map[string]any{
			"line":        fmt.Sprintf("%d Logistics Way", 1+rand.Intn(999)),
			"city":        city.name,
			"postal_code": city.postal,
			"country":     "KR",
		},
		"pg_provider": "toss",
		"payment_id":  "pay-" + uuid.NewString(),
		"payment_key": "pk-" + uuid.NewString(),
		"created_by":  "loadgen",
	}
}

// --------------------------------------------------------------------------
// Worker
// --------------------------------------------------------------------------

type outcome struct {
	sagaStatus string
	latency    time.Duration
	err        error
}

func runOrder(base string, cancelRatio float64, pollTimeout time.Duration) outcome {
	start := time.Now()

	status, resp, err := httpPost(base+"/api/v1/orders", randomOrder())
	if err != nil {
		return outcome{err: err}
	}
	if status != http.StatusCreated {
		code, _ := field(resp, "error", "code").(string)
		return outcome{sagaStatus: "rejected:" + code, latency: time.Since(start)}
	}

	orderID, _ := field(resp, "data", "id").(string)
	if orderID == "" {
		return outcome{err: fmt.Errorf("create response missing data.id")}
	}

	if rand.Float64() < cancelRatio {
		cancelStatus, _, err := httpPost(base+"/api/v1/orders/"+orderID+"/cancel",
			map[string]any{"reason": "loadgen cancel"})
		if err != nil {
			return outcome{err: err}
		}
		// 409 means the delivery steps won the race; fall through and poll.
		if cancelStatus != http.StatusOK && cancelStatus != http.StatusConflict {
			return outcome{err: fmt.Errorf("cancel returned HTTP %d", cancelStatus)}
		}
	}

	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		status, resp, err := httpGet(base + "/api/v1/orders/" + orderID + "/saga")
		if err != nil {
			return outcome{err: err}
		}
		if status == http.StatusOK {
			sagaStatus, _ := field(resp, "data", "status").(string)
			switch sagaStatus {
			case "completed", "compensated", "compensation_failed", "failed":
				return outcome{sagaStatus: sagaStatus, latency: time.Since(start)}
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	return outcome{sagaStatus: "timed_out", latency: time.Since(start)}
}

// --------------------------------------------------------------------------
// Main
// --------------------------------------------------------------------------

func main() {
	var (
		total       = flag.Int("n", 100, "number of orders to create")
		concurrency = flag.Int("c", 10, "concurrent workers")
		cancelRatio = flag.Float64("cancel", 0.1, "fraction of orders to cancel mid-saga")
		pollTimeout = flag.Duration("poll-timeout", 60*time.Second, "how long to wait for a saga to finish")
	)
	flag.Parse()

	base := getEnv("FULFILLMENT_URL", "http://localhost:8011")

	log.Printf("driving %d orders against %s (workers=%d cancel=%.0f%%)",
		*total, base, *concurrency, *cancelRatio*100)

	jobs := make(chan struct{})
	results := make(chan outcome)

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				results <- runOrder(base, *cancelRatio, *pollTimeout)
			}
		}()
	}

	go func() {
		for i := 0; i < *total; i++ {
			jobs <- struct{}{}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	counts := map[string]int{}
	var latencies []time.Duration
	errs := 0
	start := time.Now()

	for res := range results {
		if res.err != nil {
			errs++
			log.Printf("order failed: %v", res.err)
			continue
		}
		counts[res.sagaStatus]++
		latencies = append(latencies, res.latency)
	}

	elapsed := time.Since(start)
	log.Printf("done in %s", elapsed.Round(time.Millisecond))

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		log.Printf("  %-22s %d", k, counts[k])
	}
	if errs > 0 {
		log.Printf("  %-22s %d", "transport errors", errs)
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		p := func(q float64) time.Duration {
			return latencies[int(float64(len(latencies)-1)*q)]
		}
		log.Printf("latency p50=%s p95=%s p99=%s max=%s",
			p(0.50).Round(time.Millisecond),
			p(0.95).Round(time.Millisecond),
			p(0.99).Round(time.Millisecond),
			latencies[len(latencies)-1].Round(time.Millisecond),
		)
	}
}
