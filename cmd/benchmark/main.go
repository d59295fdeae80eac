// Benchmark tool for replaying transaction datasets against Kestrel.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/transactions.csv -url http://localhost:8080
//
// This tool:
//   1. Reads a transaction CSV (same columns the ingest importer accepts)
//   2. Sends each transaction to Kestrel for fee assessment
//   3. Tracks match rate, total and average fees, and latency
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BenchTransaction represents a row from the transaction dataset
type BenchTransaction struct {
	ID              string
	MerchantID      string
	Timestamp       string
	CardScheme      string
	IsCredit        bool
	ACI             string
	IssuingCountry  string
	AcquirerCountry string
	EURAmount       float64
}

// AssessRequest is the Kestrel API request format
type AssessRequest struct {
	MerchantID      string  `json:"merchantId"`
	CardScheme      string  `json:"cardScheme"`
	IsCredit        bool    `json:"isCredit"`
	ACI             string  `json:"aci"`
	IssuingCountry  string  `json:"issuingCountry"`
	AcquirerCountry string  `json:"acquirerCountry"`
	EURAmount       float64 `json:"eurAmount"`
	Timestamp       string  `json:"timestamp,omitempty"`
}

// AssessResponse is the Kestrel API response format
type AssessResponse struct {
	AssessmentID string  `json:"assessmentId"`
	Status       string  `json:"status"` // "MATCHED" or "NORULE"
	RuleID       *int64  `json:"ruleId"`
	Fee          float64 `json:"fee"`
}

// Metrics tracks benchmark results
type Metrics struct {
	Matched   int64
	Unmatched int64

	TotalProcessed int64
	TotalErrors    int64

	mu         sync.Mutex
	totalFees  float64
	latencies  []time.Duration
	ruleCounts map[int64]int64
}

func (m *Metrics) record(resp *AssessResponse, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalFees += resp.Fee
	m.latencies = append(m.latencies, elapsed)
	if resp.RuleID != nil {
		m.ruleCounts[*resp.RuleID]++
	}
}

func main() {
	csvPath := flag.String("csv", "", "Path to transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	merchant := flag.String("merchant", "", "Only replay transactions for this merchant")
	verbose := flag.Bool("verbose", false, "Print each assessment result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL BENCHMARK - Fee Assessment Replay          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	if *merchant != "" {
		fmt.Printf("Merchant:    %s\n", *merchant)
	}
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading transactions from %s...\n", *csvPath)
	transactions, err := readTransactionCSV(*csvPath, *limit, *merchant)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	if len(transactions) == 0 {
		fmt.Println("Nothing to replay.")
		os.Exit(0)
	}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readTransactionCSV(path string, limit int, merchant string) ([]BenchTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var transactions []BenchTransaction

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		merchantID := record[colIndex["merchant"]]
		if merchant != "" && merchantID != merchant {
			continue
		}

		amount, _ := strconv.ParseFloat(record[colIndex["eur_amount"]], 64)
		isCredit := record[colIndex["is_credit"]] == "true" || record[colIndex["is_credit"]] == "1"

		tx := BenchTransaction{
			ID:              record[colIndex["id"]],
			MerchantID:      merchantID,
			Timestamp:       record[colIndex["timestamp"]],
			CardScheme:      record[colIndex["card_scheme"]],
			IsCredit:        isCredit,
			ACI:             record[colIndex["aci"]],
			IssuingCountry:  record[colIndex["issuing_country"]],
			AcquirerCountry: record[colIndex["acquirer_country"]],
			EURAmount:       amount,
		}

		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []BenchTransaction, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{ruleCounts: make(map[int64]int64)}

	work := make(chan BenchTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := assessTransaction(client, baseURL, tx)
				elapsed := time.Since(start)

				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.ID, err)
					}
					continue
				}

				matched := result.Status == "MATCHED"
				if matched {
					atomic.AddInt64(&metrics.Matched, 1)
				} else {
					atomic.AddInt64(&metrics.Unmatched, 1)
				}
				metrics.record(result, elapsed)

				if verbose {
					ruleID := "-"
					if result.RuleID != nil {
						ruleID = strconv.FormatInt(*result.RuleID, 10)
					}
					fmt.Printf("%-12s | %-12s | %-10s | €%10.2f | %-7s | rule %-5s | fee €%.4f\n",
						tx.ID,
						tx.MerchantID,
						tx.CardScheme,
						tx.EURAmount,
						result.Status,
						ruleID,
						result.Fee,
					)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func assessTransaction(client *http.Client, baseURL string, tx BenchTransaction) (*AssessResponse, error) {
	req := AssessRequest{
		MerchantID:      tx.MerchantID,
		CardScheme:      tx.CardScheme,
		IsCredit:        tx.IsCredit,
		ACI:             tx.ACI,
		IssuingCountry:  tx.IssuingCountry,
		AcquirerCountry: tx.AcquirerCountry,
		EURAmount:       tx.EURAmount,
		Timestamp:       tx.Timestamp,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/assess", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AssessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Matched:          %d\n", m.Matched)
	fmt.Printf("   Unmatched:        %d\n", m.Unmatched)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	assessed := m.Matched + m.Unmatched
	if assessed > 0 {
		matchRate := 100 * float64(m.Matched) / float64(assessed)
		fmt.Printf("   Match Rate:       %.2f%%\n", matchRate)
	}

	fmt.Printf("\n💶 FEES\n")
	fmt.Printf("   Total Fees:       €%.2f\n", m.totalFees)
	if m.Matched > 0 {
		fmt.Printf("   Avg Fee/Matched:  €%.4f\n", m.totalFees/float64(m.Matched))
	}

	if len(m.ruleCounts) > 0 {
		fmt.Printf("\n📋 TOP RULES\n")
		type ruleHit struct {
			id    int64
			count int64
		}
		hits := make([]ruleHit, 0, len(m.ruleCounts))
		for id, count := range m.ruleCounts {
			hits = append(hits, ruleHit{id, count})
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].count > hits[j].count })
		if len(hits) > 10 {
			hits = hits[:10]
		}
		for _, h := range hits {
			fmt.Printf("   Rule %-6d  %8d hits\n", h.id, h.count)
		}
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if len(m.latencies) > 0 {
		sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })
		var sum time.Duration
		for _, l := range m.latencies {
			sum += l
		}
		avg := sum / time.Duration(len(m.latencies))
		p50 := m.latencies[len(m.latencies)/2]
		p95 := m.latencies[len(m.latencies)*95/100]
		p99 := m.latencies[len(m.latencies)*99/100]
		fmt.Printf("   Avg Latency:      %v\n", avg.Round(time.Microsecond))
		fmt.Printf("   p50 Latency:      %v\n", p50.Round(time.Microsecond))
		fmt.Printf("   p95 Latency:      %v\n", p95.Round(time.Microsecond))
		fmt.Printf("   p99 Latency:      %v\n", p99.Round(time.Microsecond))
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
