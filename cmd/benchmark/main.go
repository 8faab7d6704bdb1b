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
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	customerID  string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	executed200   uint64 // Direct executions
	pending202    uint64 // Parked as approval requests
	conflict409   uint64 // Single-pending collapses
	reject422     uint64 // Validation rejections
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&customerID, "customer", "", "Customer UUID to load LGs from")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	if customerID == "" {
		log.Fatal("-customer is required")
	}

	lgIDs, err := fetchLGIDs()
	if err != nil {
		log.Fatalf("Unable to list LGs: %v", err)
	}
	if len(lgIDs) == 0 {
		log.Fatal("No LGs found; run the seeder first")
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | LGs: %d", workload, concurrency, duration, len(lgIDs))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, i, lgIDs)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func fetchLGIDs() ([]string, error) {
	resp, err := http.Get(targetURL + "/api/v1/lgs?customer_id=" + customerID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	var lgs []struct {
		ID         string `json:"id"`
		ExpiryDate string `json:"expiry_date"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lgs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(lgs))
	for _, lg := range lgs {
		ids = append(ids, lg.ID)
	}
	return ids, nil
}

func worker(wg *sync.WaitGroup, start time.Time, id int, lgIDs []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		lgID := pickLG(lgIDs)

		// Extensions are the cheapest always-valid action: each one
		// pushes the expiry date out another day.
		newExpiry := time.Now().AddDate(2, 0, rand.Intn(300)).UTC().Format(time.RFC3339)
		payload := map[string]interface{}{
			"maker_id": fmt.Sprintf("bench-worker-%d", id),
			"action": map[string]interface{}{
				"type": "EXTEND",
				"data": map[string]interface{}{
					"new_expiry_date": newExpiry,
				},
			},
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/lgs/"+lgID+"/actions", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&executed200, 1)
		case 202:
			atomic.AddUint64(&pending202, 1)
		case 409:
			atomic.AddUint64(&conflict409, 1)
		case 422:
			atomic.AddUint64(&reject422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func pickLG(lgIDs []string) string {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic hammers the first LG, measuring the
		// single-pending collapse under contention.
		if rand.Float32() < 0.90 {
			return lgIDs[0]
		}
	}
	return lgIDs[rand.Intn(len(lgIDs))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&executed200)
	s202 := atomic.LoadUint64(&pending202)
	f409 := atomic.LoadUint64(&conflict409)
	f422 := atomic.LoadUint64(&reject422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var collapseRate float64
	if total > 0 {
		collapseRate = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"executed":          s200,
		"parked_pending":    s202,
		"pending_conflicts": f409,
		"collapse_rate_pct": collapseRate,
		"validation_errors": f422,
		"other_failures":    fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)
}
