package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
)

// ErrNotBinary is returned when an artifact does not describe exactly two classes.
var ErrNotBinary = errors.New("pipeline is not a two-class classifier")

// defaultLabels is used when an artifact ships without label_map.json.
var defaultLabels = []string{"not_spam", "spam"}

// loadLabels reads label_map.json as either ["a","b"] or {"0":"a","1":"b"}.
// A missing file yields the default two labels.
func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return append([]string(nil), defaultLabels...), nil
		}
		return nil, err
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) == 0 {
			return nil, errors.New("label map is empty")
		}
		return arr, nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode label map: %w", err)
	}
	out := make([]string, len(m))
	seen := make([]bool, len(m))
	for k, v := range m {
		idx, convErr := strconv.Atoi(k)
		if convErr != nil {
			return nil, fmt.Errorf("invalid label index %q: %w", k, convErr)
		}
		if idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("label index %d out of range", idx)
		}
		if seen[idx] {
			return nil, fmt.Errorf("label index %d listed more than once", idx)
		}
		seen[idx] = true
		out[idx] = v
	}
	return out, nil
}

func requireBinary(labels []string, outputWidth int) error {
	if len(labels) != 2 {
		return fmt.Errorf("%w: %d labels %v", ErrNotBinary, len(labels), labels)
	}
	if outputWidth != 1 && outputWidth != 2 {
		return fmt.Errorf("%w: output width %d", ErrNotBinary, outputWidth)
	}
	return nil
}

func softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	out := make([]float32, len(logits))
	sum := 0.0
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func sigmoid(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(v))))
}

// argmax returns the first index holding the maximum value.
func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// PredictStage turns a logits column into class probabilities and a predicted label index.
// A single-logit head is read as the positive-class logit.
type PredictStage struct {
	LogitsCol      string
	ProbabilityCol string
	PredictionCol  string
}

func (s *PredictStage) Name() string { return "predict" }

func (s *PredictStage) Transform(_ context.Context, in Frame) (Frame, error) {
	logitsCol := s.LogitsCol
	if logitsCol == "" {
		logitsCol = ColLogits
	}
	probCol := s.ProbabilityCol
	if probCol == "" {
		probCol = ColProbability
	}
	predCol := s.PredictionCol
	if predCol == "" {
		predCol = ColPrediction
	}

	out, err := in.WithColumn(probCol, func(r Row) (any, error) {
		logits, err := float32sCell(r, logitsCol)
		if err != nil {
			return nil, err
		}
		switch len(logits) {
		case 0:
			return nil, errors.New("empty logits")
		case 1:
			p := sigmoid(logits[0])
			return []float32{1 - p, p}, nil
		default:
			return softmax(logits), nil
		}
	})
	if err != nil {
		return Frame{}, err
	}

	return out.WithColumn(predCol, func(r Row) (any, error) {
		probs, err := float32sCell(r, probCol)
		if err != nil {
			return nil, err
		}
		return argmax(probs), nil
	})
}
