// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package tracing wraps the tracer used for task, plan and commit spans.
// Tasks may also be profiled: a profiled span records its children and
// timings so a slow task can be logged with a breakdown.
package tracing

import (
	"context"
	"net/http"
	"time"
)

// GlobalTracer is the tracer every span is started from. It does nothing
// until the CLI installs a real one.
var GlobalTracer Tracer = NopTracer()

// StartSpanFromContext returns a child span of the span in ctx, profiled if
// that span is.
func StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context) {
	return startSpan(ctx, operationName, false)
}

// StartProfiledSpanFromContext returns a span that records its own timing
// and that of every span started below it.
func StartProfiledSpanFromContext(ctx context.Context, operationName string) (*Profile, context.Context) {
	span, ctx := startSpan(ctx, operationName, true)
	return span.(*Profile), ctx
}

func startSpan(ctx context.Context, operationName string, profile bool) (Span, context.Context) {
	parent, profiled := ctx.Value(profileKey).(*Profile)
	if !profile && !profiled {
		return GlobalTracer.StartSpanFromContext(ctx, operationName)
	}
	p := &Profile{Name: operationName, Begin: time.Now(), KV: make(map[string]interface{})}
	if profiled {
		parent.addChild(p)
	}
	p.inner, ctx = GlobalTracer.StartSpanFromContext(ctx, operationName)
	return p, context.WithValue(ctx, profileKey, p)
}

// Tracer starts spans and carries them across HTTP requests.
type Tracer interface {
	StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context)
	InjectHTTPHeaders(r *http.Request)
	// ExtractHTTPHeaders starts a server span continuing the one in r.
	ExtractHTTPHeaders(r *http.Request) (Span, context.Context)
}

// Span is a single span of a trace.
type Span interface {
	Finish()
	LogKV(alternatingKeyValues ...interface{})
}

// Profile is a span that keeps its timing, its key/value pairs and its
// child profiles.
type Profile struct {
	inner    Span
	Name     string
	Begin    time.Time `json:"-"`
	Duration time.Duration
	Children []*Profile             `json:",omitempty"`
	KV       map[string]interface{} `json:",omitempty"`
}

func (p *Profile) Finish() {
	p.inner.Finish()
	p.Duration = time.Since(p.Begin)
}

func (p *Profile) LogKV(alternatingKeyValues ...interface{}) {
	for i := 0; i+1 < len(alternatingKeyValues); i += 2 {
		if k, ok := alternatingKeyValues[i].(string); ok {
			p.KV[k] = alternatingKeyValues[i+1]
		}
	}
	p.inner.LogKV(alternatingKeyValues...)
}

func (p *Profile) addChild(c *Profile) {
	p.Children = append(p.Children, c)
}

// NopTracer returns a tracer that records nothing.
func NopTracer() Tracer {
	return nopTracer{}
}

type nopTracer struct{}

func (nopTracer) StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context) {
	return nopSpan{}, ctx
}

func (nopTracer) InjectHTTPHeaders(r *http.Request) {}

func (nopTracer) ExtractHTTPHeaders(r *http.Request) (Span, context.Context) {
	return nopSpan{}, r.Context()
}

type nopSpan struct{}

func (nopSpan) Finish()                 {}
func (nopSpan) LogKV(kv ...interface{}) {}

type contextKey int

const profileKey contextKey = 0
