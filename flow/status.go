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

package flow

import "net/http"

// StatusName is the canonical name of an error kind, independent of its HTTP
// projection.
type StatusName string

const (
	INTERRUPTED          StatusName = "INTERRUPTED"
	FLOW_STILL_RUNNING   StatusName = "FLOW_STILL_RUNNING"
	FLOW_EXECUTION_ERROR StatusName = "FLOW_EXECUTION_ERROR"
	NOT_DURABLE          StatusName = "NOT_DURABLE"
	STATE_STORE_MISSING  StatusName = "STATE_STORE_MISSING"
	UNKNOWN_FLOW         StatusName = "UNKNOWN_FLOW"
	NOT_INTERRUPTED      StatusName = "NOT_INTERRUPTED"
	MALFORMED_ENVELOPE   StatusName = "MALFORMED_ENVELOPE"
	PERMISSION_DENIED    StatusName = "PERMISSION_DENIED"
	VALIDATION_ERROR     StatusName = "VALIDATION_ERROR"
	INTERNAL             StatusName = "INTERNAL"
	INVALID_ARGUMENT     StatusName = "INVALID_ARGUMENT"
	UNIMPLEMENTED        StatusName = "UNIMPLEMENTED"
)

// httpStatusCode maps each StatusName to the HTTP status spec.md assigns it.
var httpStatusCode = map[StatusName]int{
	INTERRUPTED:          http.StatusOK, // never surfaced as an HTTP error
	FLOW_STILL_RUNNING:   http.StatusInternalServerError,
	FLOW_EXECUTION_ERROR: http.StatusInternalServerError,
	NOT_DURABLE:          http.StatusInternalServerError,
	STATE_STORE_MISSING:  http.StatusInternalServerError,
	UNKNOWN_FLOW:         http.StatusInternalServerError,
	NOT_INTERRUPTED:      http.StatusInternalServerError,
	MALFORMED_ENVELOPE:   http.StatusInternalServerError,
	PERMISSION_DENIED:    http.StatusForbidden,
	VALIDATION_ERROR:     http.StatusBadRequest,
	INTERNAL:             http.StatusInternalServerError,
	INVALID_ARGUMENT:     http.StatusBadRequest,
	UNIMPLEMENTED:        http.StatusNotImplemented,
}

// HTTPStatusCode returns the HTTP status code for a StatusName, defaulting to
// 500 for unrecognized names.
func HTTPStatusCode(name StatusName) int {
	if code, ok := httpStatusCode[name]; ok {
		return code
	}
	return http.StatusInternalServerError
}
