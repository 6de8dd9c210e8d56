// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package opentracing adapts an opentracing.Tracer to tracing.Tracer.
package opentracing

import (
	"context"
	"net/http"

	"github.com/molecula/relstore/logger"
	"github.com/molecula/relstore/tracing"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
)

var _ tracing.Tracer = (*Tracer)(nil)

// Tracer forwards spans to an opentracing tracer.
type Tracer struct {
	tracer opentracing.Tracer
	logger logger.Logger
}

// NewTracer returns a Tracer over tracer.
func NewTracer(tracer opentracing.Tracer, log logger.Logger) *Tracer {
	if log == nil {
		log = logger.NopLogger
	}
	return &Tracer{tracer: tracer, logger: log}
}

func (t *Tracer) StartSpanFromContext(ctx context.Context, operationName string) (tracing.Span, context.Context) {
	var opts []opentracing.StartSpanOption
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}
	span := t.tracer.StartSpan(operationName, opts...)
	return span, opentracing.ContextWithSpan(ctx, span)
}

func (t *Tracer) InjectHTTPHeaders(r *http.Request) {
	span := opentracing.SpanFromContext(r.Context())
	if span == nil {
		return
	}
	carrier := opentracing.HTTPHeadersCarrier(r.Header)
	if err := t.tracer.Inject(span.Context(), opentracing.HTTPHeaders, carrier); err != nil {
		t.logger.Warnf("injecting span into %s: %v", r.URL.Path, err)
	}
}

func (t *Tracer) ExtractHTTPHeaders(r *http.Request) (tracing.Span, context.Context) {
	// A missing or malformed context starts a new trace.
	wire, _ := t.tracer.Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(r.Header))
	span := t.tracer.StartSpan("HTTP "+r.URL.Path, ext.RPCServerOption(wire))
	ext.HTTPMethod.Set(span, r.Method)
	ext.HTTPUrl.Set(span, r.URL.String())
	return span, opentracing.ContextWithSpan(r.Context(), span)
}
