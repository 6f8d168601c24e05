package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/config"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/constants"
)

type CacheTestResult struct {
	Endpoint     string        `json:"endpoint"`
	CacheStatus  string        `json:"cache_status"`
	ResponseTime time.Duration `json:"response_time"`
	DataSize     int           `json:"data_size"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
}

type CacheTestSuite struct {
	BaseURL string
	Redis   *redis.Client
	Results []CacheTestResult
}

// Usage: cache_test <unit-id> [<unit-id> ...]
//
// Requests availability windows for each unit twice against a running server
// and checks that the first request populated the Redis key.
func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: cache_test <unit-id> [<unit-id> ...]")
	}

	cfg := config.Load()
	suite := &CacheTestSuite{
		BaseURL: fmt.Sprintf("http://localhost:%s%s", cfg.Port, cfg.GetAPIBasePath()),
		Redis: redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
	}
	defer suite.Redis.Close()

	fmt.Println("Starting availability cache test...")

	ctx := context.Background()
	if err := suite.Redis.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis connection failed: %v", err)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	windows := [][2]time.Time{
		{today.AddDate(0, 0, 7), today.AddDate(0, 0, 10)},
		{today.AddDate(0, 1, 0), today.AddDate(0, 1, 5)},
	}

	for _, unitID := range os.Args[1:] {
		for _, w := range windows {
			from, to := w[0].Format("2006-01-02"), w[1].Format("2006-01-02")
			endpoint := fmt.Sprintf("/units/%s/availability?from=%s&to=%s", unitID, from, to)
			key := constants.BuildUnitAvailabilityKey(unitID, from, to)

			fmt.Printf("\nTesting: %s\n", endpoint)
			suite.Redis.Del(ctx, key)

			first := suite.testEndpoint(ctx, endpoint, key)
			second := suite.testEndpoint(ctx, endpoint, key)
			suite.Results = append(suite.Results, first, second)

			if first.Success && second.Success && first.ResponseTime > 0 {
				improvement := float64(first.ResponseTime-second.ResponseTime) / float64(first.ResponseTime) * 100
				fmt.Printf("   Performance improvement: %.1f%% (%v -> %v)\n",
					improvement, first.ResponseTime, second.ResponseTime)
			}
		}
	}

	suite.generateReport()
}

// testEndpoint reports HIT when the key existed before the request.
func (s *CacheTestSuite) testEndpoint(ctx context.Context, endpoint, key string) CacheTestResult {
	cached, _ := s.Redis.Exists(ctx, key).Result()

	start := time.Now()
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(s.BaseURL + endpoint)
	if err != nil {
		return CacheTestResult{
			Endpoint:     endpoint,
			CacheStatus:  "ERROR",
			ResponseTime: time.Since(start),
			Error:        err.Error(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	result := CacheTestResult{
		Endpoint:     endpoint,
		CacheStatus:  "MISS",
		ResponseTime: time.Since(start),
		DataSize:     len(body),
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 400,
	}
	if cached > 0 {
		result.CacheStatus = "HIT"
	}
	if !result.Success {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}

	fmt.Printf("   [%s] HTTP %d %v (%d bytes)\n", result.CacheStatus, resp.StatusCode, result.ResponseTime, len(body))
	return result
}

func (s *CacheTestSuite) generateReport() {
	fmt.Println("\nCACHE PERFORMANCE REPORT")
	fmt.Println("========================")

	var successful, hits, misses int
	var hitTime, missTime time.Duration
	for _, result := range s.Results {
		if result.Success {
			successful++
		}
		switch result.CacheStatus {
		case "HIT":
			hits++
			hitTime += result.ResponseTime
		case "MISS":
			misses++
			missTime += result.ResponseTime
		}
	}

	fmt.Printf("Total Requests: %d\n", len(s.Results))
	fmt.Printf("Successful: %d\n", successful)
	fmt.Printf("Cache Hits: %d\n", hits)
	fmt.Printf("Cache Misses: %d\n", misses)
	if hits > 0 {
		fmt.Printf("Average Cache Hit Time: %v\n", hitTime/time.Duration(hits))
	}
	if misses > 0 {
		fmt.Printf("Average Cache Miss Time: %v\n", missTime/time.Duration(misses))
	}

	reportData, err := json.MarshalIndent(map[string]interface{}{
		"summary": map[string]interface{}{
			"total":        len(s.Results),
			"successful":   successful,
			"cache_hits":   hits,
			"cache_misses": misses,
		},
		"results": s.Results,
	}, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode report: %v", err)
	}
	if err := os.WriteFile("cache_test_results.json", reportData, 0o644); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}
	fmt.Println("\nDetailed results saved to cache_test_results.json")
}
