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

// Package flowhttp maps HTTP requests onto flow.Envelope dispatch: one route
// per registered flow, a non-durable handler for flows that run to
// completion inline and a durable handler for flows addressed by envelope.
package flowhttp

import (
	"os"
	"strings"
)

// CORSPolicy configures the Access-Control-* response headers the CORS
// middleware writes. A nil *CORSPolicy on ServerConfig disables CORS
// handling entirely.
type CORSPolicy struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
}

// defaultCORSMethods is used when a CORSPolicy sets no AllowMethods.
var defaultCORSMethods = []string{"POST", "OPTIONS"}

// ServerConfig configures NewServeMux and ListenAndServe. The zero value is
// usable: it listens on PORT (or :3400), applies no CORS policy, enforces
// no body size limit, and serves flows at the bare root path.
type ServerConfig struct {
	// Addr overrides the PORT environment variable and the ":3400" default.
	Addr string
	// PathPrefix is prepended to every flow's route, e.g. "/api/" registers
	// a durable flow named "approval" at "POST /api/approval".
	PathPrefix string
	// CORS, if non-nil, is applied to every route via the CORS middleware.
	CORS *CORSPolicy
	// MaxBodyBytes, if positive, caps request body size via
	// http.MaxBytesReader; a request exceeding it fails with 400, the same
	// status the handlers give any other body read error.
	MaxBodyBytes int64
}

// address resolves the listen address: explicit Addr, then PORT, then the
// package default.
func (c *ServerConfig) address() string {
	if c.Addr != "" {
		return c.Addr
	}
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":3400"
}

// prefix normalizes PathPrefix to have no leading slash and exactly one
// trailing slash (or to be empty, if PathPrefix holds nothing but slashes).
func (c *ServerConfig) prefix() string {
	p := strings.Trim(c.PathPrefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
