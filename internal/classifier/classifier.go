// Package classifier maps pipeline predictions to spam categories.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/inboxguard/inboxguard/internal/pipeline"
	"github.com/inboxguard/inboxguard/internal/telemetry"
)

// Category is the user-facing classification result.
type Category string

const (
	Spam    Category = "SPAM"
	NotSpam Category = "NOT SPAM"
)

const (
	labelNotSpam = 0
	labelSpam    = 1
)

var (
	// ErrNotReady means no pipeline is loaded.
	ErrNotReady = errors.New("model not loaded")
	// ErrUnsupportedLabel means the pipeline produced a label outside {0, 1}.
	ErrUnsupportedLabel = errors.New("unsupported label")
	// ErrInference wraps any failure inside the pipeline.
	ErrInference = errors.New("inference failed")
)

// Result is one successful prediction.
type Result struct {
	Label    int
	Category Category
	Scores   []float32
}

// Options tune a Classifier.
type Options struct {
	// ModelName is reported in readiness output and telemetry.
	ModelName string
	// Timeout bounds a single Classify call, including the wait for an
	// inference slot. Zero means no limit.
	Timeout   time.Duration
	Telemetry *telemetry.Provider
}

// Classifier runs single-text predictions against a shared pipeline.
type Classifier struct {
	pipe      pipeline.Pipeline
	inputCol  string
	outputCol string
	name      string
	timeout   time.Duration
	tel       *telemetry.Provider
}

// New wraps p. A nil p yields a Classifier that always returns ErrNotReady.
func New(p pipeline.Pipeline, opts Options) *Classifier {
	c := &Classifier{
		pipe:      p,
		inputCol:  pipeline.ColText,
		outputCol: pipeline.ColPrediction,
		name:      opts.ModelName,
		timeout:   opts.Timeout,
		tel:       opts.Telemetry,
	}
	if cols, ok := p.(pipeline.Columns); ok {
		c.inputCol = cols.InputColumn()
		c.outputCol = cols.OutputColumn()
	}
	if c.tel == nil {
		c.tel = telemetry.Noop()
	}
	return c
}

// Ready reports whether a pipeline is loaded.
func (c *Classifier) Ready() bool { return c != nil && c.pipe != nil }

// ModelName returns the configured model name.
func (c *Classifier) ModelName() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Classify predicts the category of text. Empty text is a valid input.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	if !c.Ready() {
		return Result{}, ErrNotReady
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := c.tel.Tracer().Start(ctx, "classifier.Classify")
	defer span.End()

	start := time.Now()
	res, err := c.classify(ctx, text)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorKind(err))
		c.tel.RecordError(ctx, c.name, errorKind(err))
		return Result{}, err
	}

	span.SetAttributes(telemetry.SafeAttributes(map[string]any{
		"inboxguard.model":    c.name,
		"inboxguard.label":    res.Label,
		"inboxguard.category": string(res.Category),
		"inboxguard.scores":   res.Scores,
	})...)
	c.tel.RecordPrediction(ctx, c.name, string(res.Category), elapsed)
	return res, nil
}

func (c *Classifier) classify(ctx context.Context, text string) (Result, error) {
	out, err := c.pipe.Transform(ctx, pipeline.NewFrame(c.inputCol, text))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	v, err := out.Value(0, c.outputCol)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInference, err)
	}
	label, err := toLabel(v)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInference, err)
	}
	category, err := CategoryFor(label)
	if err != nil {
		return Result{}, err
	}

	res := Result{Label: label, Category: category}
	if out.Has(pipeline.ColProbability) {
		if probs, err := out.Value(0, pipeline.ColProbability); err == nil {
			res.Scores, _ = probs.([]float32)
		}
	}
	return res, nil
}

// CategoryFor maps a label index to its category: 1 is spam, 0 is not.
func CategoryFor(label int) (Category, error) {
	switch label {
	case labelSpam:
		return Spam, nil
	case labelNotSpam:
		return NotSpam, nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnsupportedLabel, label)
	}
}

// toLabel accepts the numeric types a prediction column may hold.
func toLabel(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float32:
		if float32(int(n)) != n {
			return 0, fmt.Errorf("non-integral label %v", n)
		}
		return int(n), nil
	case float64:
		if float64(int(n)) != n {
			return 0, fmt.Errorf("non-integral label %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("prediction has type %T", v)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrUnsupportedLabel):
		return "unsupported_label"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "inference"
	}
}
