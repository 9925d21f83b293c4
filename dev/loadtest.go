// loadtest drives a running sentinel-core instance with trigger and
// search traffic and reports latency percentiles. It exists to size the
// detect-slot coalescing and global execution caps before a deployment,
// not to benchmark the HTTP stack.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

type sample struct {
	latency time.Duration
	status  int
	err     error
}

func main() {
	var (
		base      = flag.String("base", "http://localhost:8080", "sentinel-core base URL")
		workers   = flag.Int("workers", 8, "concurrent workers")
		duration  = flag.Duration("duration", 30*time.Second, "test duration")
		searchPct = flag.Int("search-pct", 70, "percentage of requests that are searches (rest are anomaly triggers)")
	)
	flag.Parse()
	if *searchPct < 0 || *searchPct > 100 {
		log.Fatal("search-pct must be within [0,100]")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	queries := []string{
		"crash loop payments",
		"image pull registry",
		"cpu saturation worker",
		"disk filling node",
		"service:kubernetes severity:critical restart",
	}

	var (
		mu      sync.Mutex
		samples []sample
	)
	record := func(s sample) {
		mu.Lock()
		samples = append(samples, s)
		mu.Unlock()
	}

	stop := time.Now().Add(*duration)
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for time.Now().Before(stop) {
				var (
					path    string
					payload map[string]any
				)
				if rng.Intn(100) < *searchPct {
					path = "/api/v1/search"
					payload = map[string]any{"query": queries[rng.Intn(len(queries))], "limit": 5}
				} else {
					path = "/api/v1/triggers/anomaly"
					payload = map[string]any{"services": []string{"kubernetes"}, "reason": "loadtest"}
				}
				body, _ := json.Marshal(payload)
				start := time.Now()
				resp, err := client.Post(*base+path, "application/json", bytes.NewReader(body))
				s := sample{latency: time.Since(start), err: err}
				if err == nil {
					s.status = resp.StatusCode
					resp.Body.Close()
				}
				record(s)
			}
		}(int64(w) + time.Now().UnixNano())
	}
	wg.Wait()

	if len(samples) == 0 {
		log.Fatal("no samples collected")
	}

	latencies := make([]time.Duration, 0, len(samples))
	errs, rejected := 0, 0
	for _, s := range samples {
		if s.err != nil {
			errs++
			continue
		}
		if s.status >= 400 {
			rejected++
		}
		latencies = append(latencies, s.latency)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pct := func(p float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		idx := int(p * float64(len(latencies)-1))
		return latencies[idx]
	}

	fmt.Printf("requests: %d  errors: %d  http>=400: %d  rate: %.1f/s\n",
		len(samples), errs, rejected, float64(len(samples))/duration.Seconds())
	fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n",
		pct(0.50), pct(0.95), pct(0.99), latencies[len(latencies)-1])

	if errs > len(samples)/10 {
		fmt.Fprintln(os.Stderr, "more than 10% of requests failed; treat results as invalid")
		os.Exit(1)
	}
}
