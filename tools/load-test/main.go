package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type results struct {
	success   int64
	conflicts int64
	busy      int64
	failed    int64
}

func (r *results) record(resp *http.Response, err error) {
	if err != nil {
		atomic.AddInt64(&r.failed, 1)
		return
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		atomic.AddInt64(&r.success, 1)
	case resp.StatusCode == http.StatusConflict:
		atomic.AddInt64(&r.conflicts, 1)
	case resp.StatusCode == http.StatusServiceUnavailable:
		atomic.AddInt64(&r.busy, 1)
	default:
		atomic.AddInt64(&r.failed, 1)
	}
}

func main() {
	var (
		baseURL     string
		users       int
		duplicates  int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "load-test",
		Short: "Drive full attendance days against the API, with concurrent duplicate check-ins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(baseURL, users, duplicates, concurrency)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080/api/v1/attendance", "attendance API base URL")
	cmd.Flags().IntVar(&users, "users", 5000, "number of simulated users")
	cmd.Flags().IntVar(&duplicates, "duplicates", 3, "concurrent check-ins fired per user")
	// Number of concurrent users to avoid local port exhaustion
	cmd.Flags().IntVar(&concurrency, "concurrency", 50, "users in flight at once")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(baseURL string, users, duplicates, concurrency int) error {
	runID := uuid.NewString()[:8]
	fmt.Printf("Starting load test %s: %d users (%d concurrent check-ins each) against %s with concurrency %d\n",
		runID, users, duplicates, baseURL, concurrency)

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency) // Semaphore to limit concurrency

	var checkIns, steps results
	client := &http.Client{Timeout: 10 * time.Second}
	startTime := time.Now()

	for i := 0; i < users; i++ {
		wg.Add(1)
		sem <- struct{}{} // Acquire token

		userID := fmt.Sprintf("load-%s-%d", runID, i)

		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }() // Release token

			// Racing check-ins: exactly one should be accepted.
			var race sync.WaitGroup
			for j := 0; j < duplicates; j++ {
				race.Add(1)
				go func() {
					defer race.Done()
					checkIns.record(post(client, baseURL+"/check-in", userID, `{"method":"WEB"}`))
				}()
			}
			race.Wait()

			steps.record(post(client, baseURL+"/break/start", userID, `{}`))
			steps.record(post(client, baseURL+"/break/end", userID, `{}`))
			steps.record(post(client, baseURL+"/check-out", userID, `{"method":"WEB"}`))
		}(userID)
	}

	wg.Wait()
	duration := time.Since(startTime)
	total := checkIns.success + checkIns.conflicts + checkIns.busy + checkIns.failed +
		steps.success + steps.conflicts + steps.busy + steps.failed

	fmt.Println("\n--- Load Test Results ---")
	fmt.Printf("Total Duration:      %v\n", duration)
	fmt.Printf("Total Requests:      %d\n", total)
	fmt.Printf("Check-ins accepted:  %d (want %d)\n", checkIns.success, users)
	fmt.Printf("Check-ins rejected:  %d conflict, %d busy\n", checkIns.conflicts, checkIns.busy)
	fmt.Printf("Day steps ok:        %d\n", steps.success)
	fmt.Printf("Day steps rejected:  %d conflict, %d busy\n", steps.conflicts, steps.busy)
	fmt.Printf("Failed:              %d\n", checkIns.failed+steps.failed)
	fmt.Printf("Requests/Sec:        %.2f\n", float64(total)/duration.Seconds())

	if checkIns.success > int64(users) {
		return fmt.Errorf("duplicate sessions accepted: %d check-ins for %d users", checkIns.success, users)
	}
	return nil
}

func post(client *http.Client, url, userID, body string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)
	return client.Do(req)
}
