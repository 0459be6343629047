// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// injectTraceContext propagates the active span through message metadata.
func injectTraceContext(ctx context.Context, md map[string]any) {
	otel.GetTextMapPropagator().Inject(ctx, metadataCarrier{md: md})
}

// extractTraceContext continues the caller's trace from message metadata.
func extractTraceContext(ctx context.Context, md map[string]any) context.Context {
	if len(md) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, metadataCarrier{md: md})
}

type metadataCarrier struct {
	md map[string]any
}

func (c metadataCarrier) Get(key string) string {
	v, _ := c.md[key].(string)
	return v
}

func (c metadataCarrier) Set(key, value string) {
	c.md[key] = value
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c.md))
	for key := range c.md {
		keys = append(keys, key)
	}
	return keys
}

var _ propagation.TextMapCarrier = metadataCarrier{}
