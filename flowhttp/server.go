// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package flowhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/flowrun/flowrun/flow"
)

// NewServeMux builds a ServeMux with one route per flow: "POST
// {prefix}{flow.Name()}", routed to the durable or non-durable handler per
// flow.IsDurable(). cfg may be nil, equivalent to &ServerConfig{}.
func NewServeMux(flows []flow.HTTPFlow, cfg *ServerConfig) *http.ServeMux {
	if cfg == nil {
		cfg = &ServerConfig{}
	}
	mws := []Middleware{corsMiddleware(cfg.CORS), bodySizeLimitMiddleware(cfg.MaxBodyBytes)}

	mux := http.NewServeMux()
	prefix := cfg.prefix()
	for _, f := range flows {
		var terminal func(http.ResponseWriter, *http.Request) error
		if f.IsDurable() {
			terminal = durableHandler(f)
		} else {
			terminal = nonDurableHandler(f)
		}
		mux.Handle("POST /"+prefix+f.Name(), chain(handle(terminal), mws...))
	}
	return mux
}

// ListenAndServe starts an HTTP server for flows on cfg's resolved address,
// shutting down gracefully on SIGTERM. It always returns a non-nil error: the
// one returned by http.Server.ListenAndServe, or the shutdown error if that
// completed first.
func ListenAndServe(flows []flow.HTTPFlow, cfg *ServerConfig) error {
	if cfg == nil {
		cfg = &ServerConfig{}
	}
	addr := cfg.address()
	server := &http.Server{Addr: addr, Handler: NewServeMux(flows, cfg)}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	shutdownErr := make(chan error, 1)
	go func() {
		<-sigCh
		slog.Info("flowhttp: received SIGTERM, shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr <- server.Shutdown(ctx)
	}()

	slog.Info("flowhttp: listening", "addr", addr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		if serr := <-shutdownErr; serr != nil {
			return serr
		}
	}
	return err
}

// requestID tags each request's log lines so a single drive's start/end
// pair (and any errors in between) can be correlated in a shared log stream.
var requestID atomic.Int64

// handle wraps a terminal handler with request-start/end logging: it always
// produces a response, translating a returned *httpError's code into the
// status line and any other error into a 500.
func handle(f func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestID.Add(1)
		log := slog.Default().With("reqID", id)
		log.Info("request start", "method", r.Method, "path", r.URL.Path)
		err := f(w, r)
		if err != nil {
			log.Error("request end", "err", err)
			var herr *httpError
			if errors.As(err, &herr) {
				http.Error(w, herr.Error(), herr.code)
			} else {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		log.Info("request end")
	})
}
