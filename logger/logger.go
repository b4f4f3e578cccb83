// Copyright 2024 Google LLC
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

// Package logger provides a context-scoped slog.Logger for the flow engine.
package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/flowrun/flowrun/internal/base"
)

func init() {
	// TODO: let the host program configure the default handler; this is a
	// convenience default for development only.
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})
	slog.SetDefault(slog.New(&LevelFilterHandler{h: baseHandler, level: slog.LevelInfo}))
}

var loggerKey = base.NewContextKey[*slog.Logger]()

// FromContext returns the Logger in ctx, or the default Logger if there is none.
func FromContext(ctx context.Context) *slog.Logger {
	if l := loggerKey.FromContext(ctx); l != nil {
		return l
	}
	return slog.Default()
}

// NewContext returns ctx augmented with l, retrievable by FromContext.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return loggerKey.NewContext(ctx, l)
}

// LevelFilterHandler is a slog.Handler that drops records below level.
type LevelFilterHandler struct {
	level slog.Level
	h     slog.Handler
}

func (h *LevelFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *LevelFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.h.Handle(ctx, r)
}

func (h *LevelFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelFilterHandler{level: h.level, h: h.h.WithAttrs(attrs)}
}

func (h *LevelFilterHandler) WithGroup(name string) slog.Handler {
	return &LevelFilterHandler{level: h.level, h: h.h.WithGroup(name)}
}
