package memory

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/becomeliminal/nim-memory/memory"

var fallbackCounter metric.Int64Counter

func init() {
	c, err := otel.Meter(meterName).Int64Counter(
		"nim_memory.embedding.fallbacks",
		metric.WithDescription("Texts that received a zero-vector embedding because the embedding backend failed"),
		metric.WithUnit("{text}"),
	)
	if err == nil {
		fallbackCounter = c
	}
}

// RecordEmbeddingFallback counts texts that were given zero-vector embeddings.
// Embedders call it whenever they mask a backend failure.
func RecordEmbeddingFallback(ctx context.Context, provider, reason string, texts int) {
	if fallbackCounter == nil || texts <= 0 {
		return
	}
	fallbackCounter.Add(ctx, int64(texts), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("reason", reason),
	))
}
