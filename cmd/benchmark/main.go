// Benchmark tool for replaying labeled screening sessions against Kestrel.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/sessions.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled screening sessions (one row per session, at_risk label)
//   2. Sends each session to Kestrel for scoring
//   3. Compares Kestrel's concern probability against the label
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Expected CSV columns (header required, extra columns ignored):
//   subject_id, age, education, at_risk,
//   wpm, pause_ratio, word_finding_delay, articulation, lexical_diversity,
//   word_recall, pattern_accuracy, delayed_recall, recognition, intrusions,
//   reaction_times (semicolon-separated ms),
//   stroop_error_rate, stroop_interference, tap_interval_std,
//   digit_span (optional), fluency_words (optional)
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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Session is one labeled screening session from the benchmark dataset.
type Session struct {
	SubjectID string
	Age       int
	Education int
	AtRisk    bool

	WPM              float64
	PauseRatio       float64
	WordFindingDelay float64
	Articulation     float64
	LexicalDiversity float64

	WordRecall      float64
	PatternAccuracy float64
	DelayedRecall   float64
	Recognition     float64
	Intrusions      float64

	ReactionTimes []float64

	StroopErrorRate    float64
	StroopInterference float64
	TapIntervalStd     float64

	DigitSpan    int
	FluencyWords int
}

// ScoreRequest mirrors the POST /assessments body.
type ScoreRequest struct {
	SubjectID    string       `json:"subjectId"`
	Measurements Measurements `json:"measurements"`
	Profile      Profile      `json:"profile"`
}

type Measurements struct {
	Speech    *Speech    `json:"speech,omitempty"`
	Memory    *Memory    `json:"memory,omitempty"`
	Reaction  *Reaction  `json:"reaction,omitempty"`
	Stroop    *Stroop    `json:"stroop,omitempty"`
	Tap       *Tap       `json:"tap,omitempty"`
	DigitSpan *DigitSpan `json:"digitSpan,omitempty"`
	Fluency   *Fluency   `json:"fluency,omitempty"`
}

type Speech struct {
	WordsPerMinute      float64 `json:"wordsPerMinute"`
	PauseRatio          float64 `json:"pauseRatio"`
	WordFindingDelay    float64 `json:"wordFindingDelay"`
	ArticulationClarity float64 `json:"articulationClarity"`
	LexicalDiversity    float64 `json:"lexicalDiversity"`
}

type Memory struct {
	WordRecallAccuracy    float64 `json:"wordRecallAccuracy"`
	PatternAccuracy       float64 `json:"patternAccuracy"`
	DelayedRecallAccuracy float64 `json:"delayedRecallAccuracy"`
	RecognitionAccuracy   float64 `json:"recognitionAccuracy"`
	IntrusionErrors       float64 `json:"intrusionErrors"`
}

type Reaction struct {
	Times []float64 `json:"times"`
}

type Stroop struct {
	ErrorRate        float64 `json:"errorRate"`
	InterferenceCost float64 `json:"interferenceCostMs"`
}

type Tap struct {
	IntervalStd float64 `json:"intervalStdMs"`
}

type DigitSpan struct {
	MaxForwardSpan int `json:"maxForwardSpan"`
}

type Fluency struct {
	WordCount int `json:"wordCount"`
}

type Profile struct {
	Age            *int `json:"age,omitempty"`
	EducationLevel *int `json:"educationLevel,omitempty"`
}

// ScoreResponse is the subset of the API response the benchmark reads.
type ScoreResponse struct {
	Assessment struct {
		ID                 string  `json:"id"`
		CompositeRiskScore float64 `json:"composite_risk_score"`
		CompositeRiskLevel string  `json:"composite_risk_level"`
		ConcernProbability float64 `json:"concern_probability"`
		HybridRisk         float64 `json:"hybrid_risk"`
	} `json:"assessment"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // at-risk flagged
	FalsePositives int64 // healthy flagged
	TrueNegatives  int64 // healthy passed
	FalseNegatives int64 // at-risk missed

	TotalProcessed int64
	TotalAtRisk    int64
	TotalHealthy   int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled sessions CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum sessions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	threshold := flag.Float64("threshold", 0.5, "Concern probability flag threshold")
	verbose := flag.Bool("verbose", false, "Print each session result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/sessions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Labeled Screening Sessions         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Threshold:   %.2f\n", *threshold)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading sessions from %s...\n", *csvPath)
	sessions, err := readSessionsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d sessions\n", len(sessions))

	atRiskCount := 0
	for _, s := range sessions {
		if s.AtRisk {
			atRiskCount++
		}
	}
	fmt.Printf("  - At risk: %d (%.2f%%)\n", atRiskCount, 100*float64(atRiskCount)/float64(len(sessions)))
	fmt.Printf("  - Healthy: %d (%.2f%%)\n", len(sessions)-atRiskCount, 100*float64(len(sessions)-atRiskCount)/float64(len(sessions)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(sessions, *baseURL, *tenantID, *workers, *threshold, *verbose)
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

func readSessionsCSV(path string, limit int) ([]Session, error) {
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

	field := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	floatField := func(record []string, name string) float64 {
		v, _ := strconv.ParseFloat(field(record, name), 64)
		return v
	}
	intField := func(record []string, name string) int {
		v, _ := strconv.Atoi(field(record, name))
		return v
	}

	var sessions []Session
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		var times []float64
		for _, raw := range strings.Split(field(record, "reaction_times"), ";") {
			if raw = strings.TrimSpace(raw); raw == "" {
				continue
			}
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				times = append(times, v)
			}
		}

		s := Session{
			SubjectID: field(record, "subject_id"),
			Age:       intField(record, "age"),
			Education: intField(record, "education"),
			AtRisk:    field(record, "at_risk") == "1",

			WPM:              floatField(record, "wpm"),
			PauseRatio:       floatField(record, "pause_ratio"),
			WordFindingDelay: floatField(record, "word_finding_delay"),
			Articulation:     floatField(record, "articulation"),
			LexicalDiversity: floatField(record, "lexical_diversity"),

			WordRecall:      floatField(record, "word_recall"),
			PatternAccuracy: floatField(record, "pattern_accuracy"),
			DelayedRecall:   floatField(record, "delayed_recall"),
			Recognition:     floatField(record, "recognition"),
			Intrusions:      floatField(record, "intrusions"),

			ReactionTimes: times,

			StroopErrorRate:    floatField(record, "stroop_error_rate"),
			StroopInterference: floatField(record, "stroop_interference"),
			TapIntervalStd:     floatField(record, "tap_interval_std"),

			DigitSpan:    intField(record, "digit_span"),
			FluencyWords: intField(record, "fluency_words"),
		}
		if s.SubjectID == "" {
			continue
		}

		sessions = append(sessions, s)

		if limit > 0 && len(sessions) >= limit {
			break
		}
	}

	return sessions, nil
}

func runBenchmark(sessions []Session, baseURL, tenantID string, numWorkers int, threshold float64, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Session, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := scoreSession(client, baseURL, tenantID, s)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", s.SubjectID, err)
					}
					continue
				}

				if s.AtRisk {
					atomic.AddInt64(&metrics.TotalAtRisk, 1)
				} else {
					atomic.AddInt64(&metrics.TotalHealthy, 1)
				}

				predicted := result.Assessment.ConcernProbability >= threshold
				actual := s.AtRisk

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s %-12s | At risk: %-5v | P(concern): %.4f | Composite: %6.2f (%s)\n",
						status,
						s.SubjectID,
						s.AtRisk,
						result.Assessment.ConcernProbability,
						result.Assessment.CompositeRiskScore,
						result.Assessment.CompositeRiskLevel,
					)
				}
			}
		}()
	}

	for _, s := range sessions {
		work <- s
	}
	close(work)

	wg.Wait()

	return metrics
}

func scoreSession(client *http.Client, baseURL, tenantID string, s Session) (*ScoreResponse, error) {
	req := ScoreRequest{
		SubjectID: s.SubjectID,
		Measurements: Measurements{
			Speech: &Speech{
				WordsPerMinute:      s.WPM,
				PauseRatio:          s.PauseRatio,
				WordFindingDelay:    s.WordFindingDelay,
				ArticulationClarity: s.Articulation,
				LexicalDiversity:    s.LexicalDiversity,
			},
			Memory: &Memory{
				WordRecallAccuracy:    s.WordRecall,
				PatternAccuracy:       s.PatternAccuracy,
				DelayedRecallAccuracy: s.DelayedRecall,
				RecognitionAccuracy:   s.Recognition,
				IntrusionErrors:       s.Intrusions,
			},
			Reaction: &Reaction{Times: s.ReactionTimes},
		},
	}
	if s.StroopErrorRate > 0 || s.StroopInterference > 0 {
		req.Measurements.Stroop = &Stroop{
			ErrorRate:        s.StroopErrorRate,
			InterferenceCost: s.StroopInterference,
		}
	}
	if s.TapIntervalStd > 0 {
		req.Measurements.Tap = &Tap{IntervalStd: s.TapIntervalStd}
	}
	if s.DigitSpan > 0 {
		req.Measurements.DigitSpan = &DigitSpan{MaxForwardSpan: s.DigitSpan}
	}
	if s.FluencyWords > 0 {
		req.Measurements.Fluency = &Fluency{WordCount: s.FluencyWords}
	}
	if s.Age > 0 {
		age := s.Age
		req.Profile.Age = &age
	}
	if s.Education > 0 {
		edu := s.Education
		req.Profile.EducationLevel = &edu
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/assessments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
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
	fmt.Printf("   Total At Risk:    %d\n", m.TotalAtRisk)
	fmt.Printf("   Total Healthy:    %d\n", m.TotalHealthy)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                 Flagged      Passed")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  R  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           H  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 SCREENING METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were actually at risk)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of at-risk subjects, how many we flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 SCREENING ANALYSIS\n")
	if m.TotalAtRisk > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalAtRisk) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalAtRisk) * 100
		fmt.Printf("   At-Risk Flagged:   %d / %d (%.2f%%)\n", m.TruePositives, m.TotalAtRisk, detectionRate)
		fmt.Printf("   At-Risk Missed:    %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalAtRisk, missRate)
	}
	if m.TotalHealthy > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalHealthy) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalHealthy, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f sessions/sec\n", tps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	switch {
	case recall >= 0.9:
		fmt.Println("   ✅ Excellent recall - flagging most at-risk subjects")
	case recall >= 0.7:
		fmt.Println("   ⚠️  Good recall - but missing some at-risk subjects")
	case recall >= 0.5:
		fmt.Println("   ⚠️  Moderate recall - many at-risk subjects slip through")
	default:
		fmt.Println("   ❌ Poor recall - most at-risk subjects are being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - flags are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
