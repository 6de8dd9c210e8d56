// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the diagnostics of an open relstore.DB over HTTP:
// prometheus metrics, per-table row counts and runner state.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/molecula/relstore"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/logger"
	"github.com/molecula/relstore/proc"
	"github.com/molecula/relstore/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBind is the address the server listens on unless configured.
const DefaultBind = "localhost:10110"

const shutdownTimeout = 5 * time.Second

// Server serves the diagnostics handler of one DB.
type Server struct {
	db      *relstore.DB
	logger  logger.Logger
	bind    string
	metrics bool

	handler http.Handler
	ln      net.Listener
	srv     *http.Server
	done    chan struct{}
}

// ServerOption is a functional option type for NewServer.
type ServerOption func(s *Server) error

// OptServerLogger sets the logger for requests and server errors.
func OptServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = l
		return nil
	}
}

// OptServerBind sets the host:port to listen on. Port 0 picks a free port.
func OptServerBind(bind string) ServerOption {
	return func(s *Server) error {
		if _, _, err := net.SplitHostPort(bind); err != nil {
			return errors.Wrapf(err, "parsing bind %q", bind)
		}
		s.bind = bind
		return nil
	}
}

// OptServerMetrics toggles the /metrics endpoint.
func OptServerMetrics(enabled bool) ServerOption {
	return func(s *Server) error {
		s.metrics = enabled
		return nil
	}
}

// NewServer returns a Server for db. It does not listen until Open.
func NewServer(db *relstore.DB, opts ...ServerOption) (*Server, error) {
	s := &Server{
		db:      db,
		logger:  logger.NopLogger,
		bind:    DefaultBind,
		metrics: true,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	h, err := newRouter(s)
	if err != nil {
		return nil, err
	}
	s.handler = h
	return s, nil
}

// Handler returns the router of s.
func (s *Server) Handler() http.Handler { return s.handler }

// Open starts listening and serving in the background.
func (s *Server) Open() error {
	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.bind)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Infof("diagnostics listening on http://%s", ln.Addr())
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("serving diagnostics: %v", err)
		}
	}()
	return nil
}

// Addr returns the address s listens on, or nil before Open.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops the server and waits for in-flight requests. The DB is left
// open.
func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	return errors.Wrap(err, "shutting down diagnostics server")
}

func newRouter(s *Server) (http.Handler, error) {
	router := mux.NewRouter()
	router.Use(s.extractTracing, s.logRequests)

	if s.metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		for _, c := range proc.Collectors() {
			if err := reg.Register(c); err != nil {
				return nil, errors.Wrap(err, "registering collector")
			}
		}
		router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET").Name("GetMetrics")
	}
	router.HandleFunc("/tables", s.handleGetTables).Methods("GET").Name("GetTables")
	router.HandleFunc("/runner", s.handleGetRunner).Methods("GET").Name("GetRunner")
	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	return router, nil
}

func (s *Server) extractTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span, ctx := tracing.GlobalTracer.ExtractHTTPHeaders(r)
		defer span.Finish()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := time.Now()
		next.ServeHTTP(w, r)
		name := "unknown"
		if route := mux.CurrentRoute(r); route != nil {
			name = route.GetName()
		}
		s.logger.Debugf("HTTP %s %s (%s) took %v", r.Method, r.URL.Path, name, time.Since(t))
	})
}

// tablesResponse is the body of GET /tables.
type tablesResponse struct {
	Tables []relstore.TableStats `json:"tables"`
}

func (s *Server) handleGetTables(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.TableStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, tablesResponse{Tables: stats})
}

func (s *Server) handleGetRunner(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.db.RunnerStats())
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, errors.Newf(errors.ErrNotFound, "no route for %s %s", r.Method, r.URL.Path))
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorf("writing response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrClosed):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Errorf("diagnostics request: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, werr := w.Write([]byte(errors.MarshalJSON(err))); werr != nil {
		s.logger.Errorf("writing error response: %v", werr)
	}
}
