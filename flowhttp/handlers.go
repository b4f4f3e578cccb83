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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/flowrun/flowrun/flow"
	"github.com/flowrun/flowrun/logger"
)

// httpError pairs an error with the status code it should be served as.
// Unwrapped via errors.As, exactly like the handle wrapper expects.
type httpError struct {
	code int
	err  error
}

func (e *httpError) Error() string { return fmt.Sprintf("%s: %s", http.StatusText(e.code), e.err) }
func (e *httpError) Unwrap() error { return e.err }

// errorBody is the {error: {status, message, details}} envelope a
// non-durable handler writes on failure.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Status  flow.StatusName `json:"status"`
	Message string          `json:"message"`
	Details map[string]any  `json:"details,omitempty"`
}

func errorDetailFor(err error) errorDetail {
	var ferr *flow.Error
	if errors.As(err, &ferr) {
		return errorDetail{Status: ferr.Status, Message: ferr.Message, Details: ferr.Details}
	}
	return errorDetail{Status: flow.INTERNAL, Message: err.Error()}
}

func statusCodeFor(err error) int {
	var ferr *flow.Error
	if errors.As(err, &ferr) {
		return flow.HTTPStatusCode(ferr.Status)
	}
	return http.StatusInternalServerError
}

// dataEnvelope unwraps the `{"data": ...}` body field both handlers accept.
type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

func parseBoolQueryParam(r *http.Request, name string) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, &httpError{http.StatusBadRequest, err}
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, code int, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err = w.Write(data)
	return err
}

// nonDurableHandler reads input from body field "data", optionally applies
// auth, and either runs to completion or streams chunks per spec.md's HTTP
// surface contract.
func nonDurableHandler(f flow.HTTPFlow) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		defer r.Body.Close()
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return &httpError{http.StatusBadRequest, err}
		}
		var env dataEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return &httpError{http.StatusBadRequest, err}
		}

		ctx, err := f.ProvideAuthContext(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			return writeJSON(w, http.StatusForbidden, errorBody{Error: errorDetail{
				Status: flow.PERMISSION_DENIED, Message: err.Error(),
			}})
		}

		stream, err := parseBoolQueryParam(r, "stream")
		if err != nil {
			return err
		}

		if !stream {
			op, err := f.RunJSON(ctx, env.Data, nil)
			if err != nil {
				return writeJSON(w, statusCodeFor(err), errorBody{Error: errorDetailFor(err)})
			}
			_, werr := fmt.Fprintf(w, `{"result": %s}`, op.Result.Response)
			return werr
		}

		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Transfer-Encoding", "chunked")
		flusher, _ := w.(http.Flusher)
		streamJSON := func(_ context.Context, chunk json.RawMessage) error {
			if _, err := fmt.Fprintf(w, "%s\n", chunk); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
			return nil
		}
		op, err := f.RunJSON(ctx, env.Data, streamJSON)
		if err != nil {
			// A stream has already begun writing a 200 response by the time
			// the body errors; there is no status line left to change.
			// Report it as a final stream line instead.
			fail := errorBody{Error: errorDetailFor(err)}
			b, _ := json.Marshal(fail)
			_, werr := fmt.Fprintf(w, "%s\n", b)
			return werr
		}
		b, err := json.Marshal(op)
		if err != nil {
			return err
		}
		_, werr := fmt.Fprintf(w, "%s\n", b)
		return werr
	}
}

// durableHandler accepts an envelope (top-level or wrapped under "data"),
// dispatches it, and always reports dispatch failures and body failures
// alike as 500s carrying an Operation-shaped body, per spec.md's
// "errors conveyed as operations, not as API errors" rule for durable flows.
func durableHandler(f flow.HTTPFlow) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		defer r.Body.Close()
		stream, err := parseBoolQueryParam(r, "stream")
		if err != nil {
			return err
		}
		if stream {
			return &httpError{http.StatusBadRequest, errors.New("streaming from durable flows is disallowed")}
		}

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return &httpError{http.StatusBadRequest, err}
		}
		env, err := decodeEnvelope(raw)
		if err != nil {
			return &httpError{http.StatusBadRequest, err}
		}

		state, err := f.DispatchJSON(r.Context(), env)
		if err != nil {
			logger.FromContext(r.Context()).Error("flow dispatch failed", "flow", f.Name(), "err", err)
			return writeJSON(w, http.StatusInternalServerError, durableErrorBody{
				Done:   true,
				Result: &flow.OperationResult{Error: err.Error()},
			})
		}
		if state.Operation.Result != nil && state.Operation.Result.Error != "" {
			return writeJSON(w, http.StatusInternalServerError, state.Operation)
		}
		return writeJSON(w, http.StatusOK, state.Operation)
	}
}

type durableErrorBody struct {
	Done   bool                  `json:"done"`
	Result *flow.OperationResult `json:"result"`
}

// decodeEnvelope accepts either a bare envelope or one wrapped under a
// "data" key, for task-queue client compatibility.
func decodeEnvelope(raw []byte) (flow.Envelope, error) {
	var env flow.Envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err == nil && hasAnyVariant(env) {
		return env, nil
	}
	var wrapped dataEnvelope
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return flow.Envelope{}, err
	}
	if err := json.Unmarshal(wrapped.Data, &env); err != nil {
		return flow.Envelope{}, err
	}
	return env, nil
}

func hasAnyVariant(env flow.Envelope) bool {
	return env.Start != nil || env.Schedule != nil || env.RunScheduled != nil ||
		env.Resume != nil || env.State != nil || env.Retry != nil
}
