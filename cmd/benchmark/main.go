package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalCycles   uint64
	completed     uint64
	failed        uint64 // Checksum mismatches reported by the broker
	invalid422    uint64
	failOther     uint64
	totalRequests uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:3000", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | mismatch")
}

func main() {
	flag.Parse()
	if workload != "uniform" && workload != "mismatch" {
		log.Fatalf("unknown workload %q", workload)
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

type beam struct {
	Status string `json:"status"`
}

func post(client *http.Client, path string, payload any) (*beam, int, error) {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, targetURL+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	atomic.AddUint64(&totalRequests, 1)
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var b beam
	if resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
			return nil, resp.StatusCode, err
		}
	}
	return &b, resp.StatusCode, nil
}

// cycle drives one beam through submit -> begin -> complete.
func cycle(client *http.Client) {
	id := uuid.NewString()
	checksum := "deadbeef"
	observed := checksum
	if workload == "mismatch" {
		observed = "00000000"
	}
	path := "/api/v1/beams/" + url.PathEscape(id)

	steps := []struct {
		path    string
		payload any
		want    int
	}{
		{"/api/v1/beams", map[string]any{"id": id, "checksum": checksum, "size_bytes": 1024}, http.StatusCreated},
		{path + "/begin", struct{}{}, http.StatusOK},
		{path + "/complete", map[string]string{"checksum": observed}, http.StatusOK},
	}

	var last *beam
	for _, s := range steps {
		b, code, err := post(client, s.path, s.payload)
		switch {
		case err != nil:
			atomic.AddUint64(&failOther, 1)
			return
		case code == http.StatusUnprocessableEntity:
			atomic.AddUint64(&invalid422, 1)
			return
		case code != s.want:
			atomic.AddUint64(&failOther, 1)
			return
		}
		last = b
	}

	atomic.AddUint64(&totalCycles, 1)
	switch last.Status {
	case "completed":
		atomic.AddUint64(&completed, 1)
	case "failed":
		atomic.AddUint64(&failed, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		cycle(client)
	}
}

func printResults(d time.Duration) {
	cycles := atomic.LoadUint64(&totalCycles)
	reqs := atomic.LoadUint64(&totalRequests)

	results := map[string]interface{}{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     reqs,
		"throughput_rps":     float64(reqs) / d.Seconds(),
		"cycles":             cycles,
		"cycles_per_sec":     float64(cycles) / d.Seconds(),
		"completed":          atomic.LoadUint64(&completed),
		"failed_mismatch":    atomic.LoadUint64(&failed),
		"invalid_transition": atomic.LoadUint64(&invalid422),
		"errors":             atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
