// Benchmark tool for replaying labeled transactions against FraudShield.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/labeled.csv -url http://localhost:5000
//	go run ./cmd/benchmark -generate 5000 -out holdout.csv
//
// This tool:
//  1. Reads a labeled CSV with any supported column names
//  2. Normalizes it the same way training data is normalized
//  3. Sends each row to POST /predict
//  4. Reports the confusion matrix, precision, recall, F1 and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fraudshield/fraudshield/internal/dataset"
	"github.com/fraudshield/fraudshield/internal/domain"
)

// PredictResponse is the subset of the /predict response the benchmark reads.
type PredictResponse struct {
	FraudProbability float64          `json:"fraud_probability"`
	IsFraud          bool             `json:"is_fraud"`
	RiskLevel        domain.RiskLevel `json:"risk_level"`
}

func main() {
	csvPath := flag.String("csv", "", "Path to a labeled CSV file")
	baseURL := flag.String("url", "http://localhost:5000", "FraudShield base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	generate := flag.Int("generate", 0, "Write N synthetic labeled rows to -out and exit")
	out := flag.String("out", "synthetic.csv", "Output path for -generate")
	seed := flag.Uint64("seed", 7, "Seed for -generate")
	flag.Parse()

	if *generate > 0 {
		if err := writeSynthetic(*out, *generate, *seed); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %d synthetic rows to %s\n", *generate, *out)
		return
	}

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labeled.csv [-url http://localhost:5000]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("FRAUDSHIELD BENCHMARK")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("URL:         %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: FraudShield not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure FraudShield is running:")
		fmt.Println("  go run ./cmd/fraudshield")
		os.Exit(1)
	}
	fmt.Println("FraudShield is healthy")

	samples, err := loadSamples(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions\n", len(samples))

	fraudCount := 0
	for _, s := range samples {
		if s.IsFraud {
			fraudCount++
		}
	}
	if len(samples) > 0 {
		fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(samples)))
		fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(samples)-fraudCount, 100*float64(len(samples)-fraudCount)/float64(len(samples)))
	}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	m := runBenchmark(samples, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(m, duration)
}

func writeSynthetic(path string, n int, seed uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return dataset.NewGenerator(n, seed).Generate().WriteCSV(f)
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

// loadSamples reads and normalizes a labeled CSV.
func loadSamples(path string, limit int) ([]domain.Sample, error) {
	frame, err := dataset.ReadCSVFile(path)
	if err != nil {
		return nil, err
	}
	ds, report, err := dataset.Normalize(frame, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		return nil, err
	}
	if report.LabelDefaulted {
		return nil, fmt.Errorf("%s has no fraud label column", path)
	}
	samples := ds.Samples
	if limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}
	return samples, nil
}

func runBenchmark(samples []domain.Sample, baseURL string, numWorkers int, verbose bool) *Metrics {
	m := &Metrics{}

	work := make(chan domain.Sample, 100)
	var wg sync.WaitGroup
	var printMu sync.Mutex

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := predict(client, baseURL, s.Record)
				m.Record(s.IsFraud, result, err, time.Since(start))

				if verbose {
					printMu.Lock()
					printSample(s, result, err)
					printMu.Unlock()
				}
			}
		}()
	}

	for _, s := range samples {
		work <- s
	}
	close(work)

	wg.Wait()
	return m
}

func printSample(s domain.Sample, result *PredictResponse, err error) {
	if err != nil {
		fmt.Printf("ERROR: %.2f %s -> %v\n", s.Record.Amount, s.Record.MerchantCategory, err)
		return
	}
	status := "ok "
	if result.IsFraud != s.IsFraud {
		status = "MISS"
	}
	fmt.Printf("%s Amount: %10.2f | Hour: %2d | Merchant: %-10s | Fraud: %-5v | Predicted: %-5v (%.3f, %s)\n",
		status,
		s.Record.Amount,
		s.Record.Hour,
		s.Record.MerchantCategory,
		s.IsFraud,
		result.IsFraud,
		result.FraudProbability,
		result.RiskLevel,
	)
}

func predict(client *http.Client, baseURL string, rec domain.TransactionRecord) (*PredictResponse, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/predict", bytes.NewReader(body))
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

	var result PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed.Load())
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud.Load())
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud.Load())
	fmt.Printf("   Errors:           %d\n", m.TotalErrors.Load())

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   FRAUD       LEGIT")
	fmt.Println("              +----------+----------+")
	fmt.Printf("   Actual  F  | %8d | %8d |  (TP, FN)\n", m.TruePositives.Load(), m.FalseNegatives.Load())
	fmt.Println("              +----------+----------+")
	fmt.Printf("          NF  | %8d | %8d |  (FP, TN)\n", m.FalsePositives.Load(), m.TrueNegatives.Load())
	fmt.Println("              +----------+----------+")

	s := m.Summary()
	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", s.Precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", s.Recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", s.F1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", s.Accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if n := m.TotalProcessed.Load(); n > 0 {
		avgMs := float64(m.ProcessingTimeMs.Load()) / float64(n)
		tps := float64(n) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
