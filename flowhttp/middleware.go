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
	"net/http"
	"strings"
)

// Middleware wraps a terminal handler. Both the durable and non-durable
// flow handlers run their server's middleware chain, in order, before the
// terminal handler.
type Middleware func(http.Handler) http.Handler

// chain applies mws in order, so the first Middleware in the slice is the
// outermost wrapper (the first to see the request, the last to see the
// response).
func chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// corsMiddleware writes Access-Control-* headers per policy and short-
// circuits an OPTIONS preflight with a 204. A nil policy yields a no-op
// middleware.
func corsMiddleware(policy *CORSPolicy) Middleware {
	methods := defaultCORSMethods
	if policy != nil && len(policy.AllowMethods) > 0 {
		methods = policy.AllowMethods
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if policy == nil {
				next.ServeHTTP(w, r)
				return
			}
			origin := r.Header.Get("Origin")
			if originAllowed(policy.AllowOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
			if len(policy.AllowHeaders) > 0 {
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(policy.AllowHeaders, ", "))
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// bodySizeLimitMiddleware caps the request body at maxBytes via
// http.MaxBytesReader. maxBytes <= 0 yields a no-op middleware.
func bodySizeLimitMiddleware(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
