package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inboxguard/inboxguard/internal/app"
	"github.com/inboxguard/inboxguard/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "inboxguard.yaml", "path to config yaml")
	n := flag.Int("n", 200, "number of predictions")
	concurrency := flag.Int("c", 1, "concurrent callers")
	text := flag.String("text", "WIN A FREE PRIZE NOW! Click here to claim your reward.", "text to classify")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, zap.NewNop(), "bench")
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	for i := 0; i < 5; i++ {
		if _, err := a.Classifier.Classify(ctx, *text); err != nil {
			return fmt.Errorf("warmup classify: %w", err)
		}
	}

	total := max(*n, 1)
	workers := max(*concurrency, 1)

	var (
		mu        sync.Mutex
		durations = make([]time.Duration, 0, total)
		firstErr  error
		wg        sync.WaitGroup
	)
	jobs := make(chan struct{})
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				start := time.Now()
				_, err := a.Classifier.Classify(ctx, *text)
				d := time.Since(start)
				mu.Lock()
				if err != nil && firstErr == nil {
					firstErr = err
				}
				durations = append(durations, d)
				mu.Unlock()
			}
		}()
	}
	wall := time.Now()
	for i := 0; i < total; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()
	elapsed := time.Since(wall)

	if firstErr != nil {
		return fmt.Errorf("classify: %w", firstErr)
	}

	s := summarize(durations)
	fmt.Printf("bench: n=%d c=%d avg_ms=%.2f p50_ms=%.2f p95_ms=%.2f rps=%.1f workers=%d max_tokens=%d model=%s\n",
		s.n,
		workers,
		s.avgMs,
		s.p50Ms,
		s.p95Ms,
		float64(s.n)/elapsed.Seconds(),
		a.Runtime.Workers(),
		a.Model.MaxTokens(),
		a.Model.Name(),
	)
	return nil
}

type summary struct {
	n     int
	avgMs float64
	p50Ms float64
	p95Ms float64
}

func summarize(durations []time.Duration) summary {
	if len(durations) == 0 {
		return summary{}
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }
	return summary{
		n:     len(sorted),
		avgMs: ms(total) / float64(len(sorted)),
		p50Ms: ms(sorted[len(sorted)/2]),
		p95Ms: ms(sorted[min(int(float64(len(sorted))*0.95), len(sorted)-1)]),
	}
}
