package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// testConfig holds the load test parameters
type testConfig struct {
	BaseURL         string
	Symbols         []string
	IncludeTrending bool
	ConcurrentUsers int
	RequestsPerUser int
	Timeout         time.Duration
	TestDuration    time.Duration
	RampUpDuration  time.Duration
	ThinkTime       time.Duration
}

// requestResult holds the result of a single request
type requestResult struct {
	UserID     int
	RequestID  int
	Target     string
	StatusCode int
	Duration   time.Duration
	Success    bool
	Error      error
}

// testSummary holds the aggregated load test results
type testSummary struct {
	TotalRequests       int
	SuccessfulRequests  int
	FailedRequests      int
	TotalDuration       time.Duration
	AverageResponseTime time.Duration
	MinResponseTime     time.Duration
	MaxResponseTime     time.Duration
	RequestsPerSecond   float64
	ErrorRate           float64
	ResponseTime95th    time.Duration
	ResponseTime99th    time.Duration
}

func main() {
	var cfg testConfig
	var symbolList string

	flag.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8082", "Base URL of the market data service")
	flag.StringVar(&symbolList, "symbols", "AAPL,MSFT,GOOGL,PETR4,VALE3", "Comma-separated stock symbols to rotate through")
	flag.BoolVar(&cfg.IncludeTrending, "trending", true, "Also hit the trending endpoints")
	flag.IntVar(&cfg.ConcurrentUsers, "users", 10, "Number of concurrent users")
	flag.IntVar(&cfg.RequestsPerUser, "requests", 100, "Number of requests per user")
	flag.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Request timeout")
	flag.DurationVar(&cfg.TestDuration, "duration", 0, "Test duration (0 = run until all requests complete)")
	flag.DurationVar(&cfg.RampUpDuration, "rampup", 5*time.Second, "Ramp-up duration")
	flag.DurationVar(&cfg.ThinkTime, "think", 100*time.Millisecond, "Think time between requests")
	flag.Parse()

	cfg.Symbols = strings.Split(symbolList, ",")

	fmt.Printf("Starting load test...\n")
	fmt.Printf("Base URL: %s\n", cfg.BaseURL)
	fmt.Printf("Symbols: %s\n", symbolList)
	fmt.Printf("Concurrent Users: %d\n", cfg.ConcurrentUsers)
	fmt.Printf("Requests per User: %d\n", cfg.RequestsPerUser)
	fmt.Printf("Timeout: %v\n", cfg.Timeout)
	fmt.Printf("Ramp-up Duration: %v\n", cfg.RampUpDuration)
	fmt.Printf("Think Time: %v\n", cfg.ThinkTime)
	fmt.Println()

	printSummary(runLoadTest(cfg))
}

// targets builds the rotation of request URLs exercised by each user
func (cfg testConfig) targets() []string {
	targets := make([]string, 0, len(cfg.Symbols)+2)
	for _, symbol := range cfg.Symbols {
		targets = append(targets, cfg.BaseURL+"/api/v1/stocks/"+strings.TrimSpace(symbol))
	}
	if cfg.IncludeTrending {
		targets = append(targets,
			cfg.BaseURL+"/api/v1/trending/stocks?limit=10",
			cfg.BaseURL+"/api/v1/trending/cryptos?limit=10")
	}
	return targets
}

func runLoadTest(cfg testConfig) testSummary {
	results := make(chan requestResult, cfg.ConcurrentUsers*cfg.RequestsPerUser)
	targets := cfg.targets()

	client := &http.Client{
		Timeout: cfg.Timeout,
	}

	startTime := time.Now()

	ctx := context.Background()
	if cfg.TestDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.TestDuration)
		defer cancel()
	}

	var wg sync.WaitGroup
	rampUpDelay := cfg.RampUpDuration / time.Duration(cfg.ConcurrentUsers)

	for userID := 0; userID < cfg.ConcurrentUsers; userID++ {
		wg.Add(1)
		go func(uid int) {
			defer wg.Done()

			time.Sleep(time.Duration(uid) * rampUpDelay)

			for reqID := 0; reqID < cfg.RequestsPerUser; reqID++ {
				select {
				case <-ctx.Done():
					return
				default:
				}

				target := targets[(uid+reqID)%len(targets)]
				results <- makeRequest(client, target, uid, reqID)

				if cfg.ThinkTime > 0 {
					time.Sleep(cfg.ThinkTime)
				}
			}
		}(userID)
	}

	wg.Wait()
	close(results)

	return processResults(results, time.Since(startTime))
}

func makeRequest(client *http.Client, target string, userID, requestID int) requestResult {
	start := time.Now()

	resp, err := client.Get(target)
	duration := time.Since(start)

	result := requestResult{
		UserID:    userID,
		RequestID: requestID,
		Target:    target,
		Duration:  duration,
		Error:     err,
	}

	if err != nil {
		result.Success = false
		return result
	}

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300

	// Read response body to ensure complete request
	if resp.Body != nil {
		resp.Body.Close()
	}

	return result
}

func processResults(results <-chan requestResult, totalDuration time.Duration) testSummary {
	var summary testSummary
	var responseTimes []time.Duration

	summary.TotalDuration = totalDuration

	for result := range results {
		summary.TotalRequests++
		responseTimes = append(responseTimes, result.Duration)

		if result.Success {
			summary.SuccessfulRequests++
		} else {
			summary.FailedRequests++
		}
	}

	if summary.TotalRequests == 0 {
		return summary
	}

	summary.ErrorRate = float64(summary.FailedRequests) / float64(summary.TotalRequests) * 100
	summary.RequestsPerSecond = float64(summary.TotalRequests) / totalDuration.Seconds()

	sort.Slice(responseTimes, func(i, j int) bool { return responseTimes[i] < responseTimes[j] })

	var totalResponseTime time.Duration
	for _, responseTime := range responseTimes {
		totalResponseTime += responseTime
	}

	summary.MinResponseTime = responseTimes[0]
	summary.MaxResponseTime = responseTimes[len(responseTimes)-1]
	summary.AverageResponseTime = totalResponseTime / time.Duration(len(responseTimes))
	summary.ResponseTime95th = percentile(responseTimes, 95)
	summary.ResponseTime99th = percentile(responseTimes, 99)

	return summary
}

// percentile expects times to be sorted ascending
func percentile(times []time.Duration, p int) time.Duration {
	index := int(float64(len(times)) * float64(p) / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

func printSummary(summary testSummary) {
	fmt.Println("=== Load Test Results ===")
	fmt.Printf("Total Requests: %d\n", summary.TotalRequests)
	if summary.TotalRequests == 0 {
		return
	}
	fmt.Printf("Successful Requests: %d (%.2f%%)\n", summary.SuccessfulRequests,
		float64(summary.SuccessfulRequests)/float64(summary.TotalRequests)*100)
	fmt.Printf("Failed Requests: %d (%.2f%%)\n", summary.FailedRequests, summary.ErrorRate)
	fmt.Printf("Total Duration: %v\n", summary.TotalDuration)
	fmt.Printf("Requests per Second: %.2f\n", summary.RequestsPerSecond)
	fmt.Printf("Average Response Time: %v\n", summary.AverageResponseTime)
	fmt.Printf("Min Response Time: %v\n", summary.MinResponseTime)
	fmt.Printf("Max Response Time: %v\n", summary.MaxResponseTime)
	fmt.Printf("95th Percentile Response Time: %v\n", summary.ResponseTime95th)
	fmt.Printf("99th Percentile Response Time: %v\n", summary.ResponseTime99th)

	fmt.Println("\n=== Performance Assessment ===")
	if summary.ErrorRate > 5.0 {
		fmt.Printf("High error rate: %.2f%% (target: < 5%%)\n", summary.ErrorRate)
	} else {
		fmt.Printf("Error rate: %.2f%% (good)\n", summary.ErrorRate)
	}

	if summary.AverageResponseTime > 2*time.Second {
		fmt.Printf("High average response time: %v (target: < 2s)\n", summary.AverageResponseTime)
	} else {
		fmt.Printf("Average response time: %v (good)\n", summary.AverageResponseTime)
	}

	if summary.RequestsPerSecond < 10 {
		fmt.Printf("Low throughput: %.2f req/s (target: > 10 req/s)\n", summary.RequestsPerSecond)
	} else {
		fmt.Printf("Throughput: %.2f req/s (good)\n", summary.RequestsPerSecond)
	}
}
