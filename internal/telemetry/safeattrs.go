package telemetry

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Span attributes must never carry message content or credentials.
var denyKeys = []string{
	"text",
	"body",
	"message",
	"content",
	"authorization",
	"api_key",
	"token",
	"email",
	"phone",
}

const (
	maxAttrString = 256
	maxAttrSlice  = 16
)

// SafeAttributes filters out unsafe keys/values and returns OTEL attributes.
func SafeAttributes(values map[string]any) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	var attrs []attribute.KeyValue
	for k, v := range values {
		if denied(k) {
			continue
		}
		switch val := v.(type) {
		case string:
			if len(val) > maxAttrString {
				continue
			}
			attrs = append(attrs, attribute.String(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case []float32:
			scores := make([]float64, 0, min(len(val), maxAttrSlice))
			for _, f := range val[:min(len(val), maxAttrSlice)] {
				scores = append(scores, float64(f))
			}
			attrs = append(attrs, attribute.Float64Slice(k, scores))
		case []string:
			attrs = append(attrs, attribute.StringSlice(k, val[:min(len(val), maxAttrSlice)]))
		}
	}
	return attrs
}

func denied(key string) bool {
	lk := strings.ToLower(key)
	for _, bad := range denyKeys {
		if strings.Contains(lk, bad) {
			return true
		}
	}
	return false
}
