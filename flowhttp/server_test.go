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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowrun/flowrun/flow"
)

type echoIn struct {
	Msg string `json:"msg"`
}
type echoOut struct {
	Msg string `json:"msg"`
}

// TestNonDurableUnary covers S1.
func TestNonDurableUnary(t *testing.T) {
	f := flow.DefineFlow("echo", func(_ context.Context, in echoIn) (echoOut, error) {
		return echoOut{Msg: in.Msg}, nil
	})
	mux := NewServeMux([]flow.HTTPFlow{f}, nil)

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"data":{"msg":"hi"}}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"result":{"msg":"hi"}}`, rec.Body.String())
}

// TestNonDurableStreaming covers S2.
func TestNonDurableStreaming(t *testing.T) {
	f := flow.DefineStreamingFlow("stream3", func(ctx context.Context, _ struct{}, stream func(context.Context, int) error) (string, error) {
		for _, n := range []int{1, 2, 3} {
			if err := stream(ctx, n); err != nil {
				return "", err
			}
		}
		return "ok", nil
	})
	mux := NewServeMux([]flow.HTTPFlow{f}, nil)

	req := httptest.NewRequest(http.MethodPost, "/stream3?stream=true", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	lines := strings.SplitN(rec.Body.String(), "\n", 4)
	require.Equal(t, []string{"1", "2", "3"}, lines[:3])

	var op flow.Operation
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(lines[3])), &op))
	require.True(t, op.Done)
	var result string
	require.NoError(t, json.Unmarshal(op.Result.Response, &result))
	require.Equal(t, "ok", result)
}

// TestDurableDispatch exercises the durable handler's envelope-at-top-level
// and data-wrapped-envelope acceptance, and its operation-shaped responses.
func TestDurableDispatch(t *testing.T) {
	store, err := flow.NewFileStateStore(t.TempDir())
	require.NoError(t, err)
	reg := flow.NewRegistry()
	sched := flow.NewInProcessScheduler(reg)
	f := flow.DefineFlow("delayed", func(_ context.Context, _ struct{}) (string, error) {
		return "done", nil
	}, flow.WithDurable(), flow.WithStateStore(store), flow.WithScheduler(sched), flow.WithRegistry(reg))

	mux := NewServeMux([]flow.HTTPFlow{f}, nil)

	req := httptest.NewRequest(http.MethodPost, "/delayed", strings.NewReader(`{"start":{"input":null}}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var op flow.Operation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	require.True(t, op.Done)

	// The data-wrapped form must be accepted identically.
	req2 := httptest.NewRequest(http.MethodPost, "/delayed", strings.NewReader(`{"data":{"start":{"input":null}}}`))
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

// TestDurableStreamingRejected checks the 400 on stream=true for a durable flow.
func TestDurableStreamingRejected(t *testing.T) {
	store, err := flow.NewFileStateStore(t.TempDir())
	require.NoError(t, err)
	f := flow.DefineFlow("nostream", func(_ context.Context, _ struct{}) (string, error) {
		return "done", nil
	}, flow.WithDurable(), flow.WithStateStore(store), flow.WithScheduler(flow.NewInProcessScheduler(flow.NewRegistry())))

	mux := NewServeMux([]flow.HTTPFlow{f}, nil)
	req := httptest.NewRequest(http.MethodPost, "/nostream?stream=true", strings.NewReader(`{"start":{"input":null}}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
