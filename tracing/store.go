// Copyright 2024 Google LLC
// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/flowrun/flowrun/internal/base"
)

// Data is information about one trace: the closed root span and its children,
// keyed by span ID. This is the wire format a TraceSink persists or forwards.
type Data struct {
	TraceID     string               `json:"traceId"`
	DisplayName string               `json:"displayName"`
	StartTime   Milliseconds         `json:"startTime"`
	EndTime     Milliseconds         `json:"endTime"`
	Spans       map[string]*SpanData `json:"spans"`
}

// SpanData is information about a trace span. Most of this comes straight
// from OpenTelemetry; see
// https://pkg.go.dev/go.opentelemetry.io/otel/sdk/trace#ReadOnlySpan.
// Unlike the OTel types, SpanData is safe to pass to json.Marshal.
type SpanData struct {
	SpanID                  string                 `json:"spanId"`
	TraceID                 string                 `json:"traceId,omitempty"`
	ParentSpanID            string                 `json:"parentSpanId,omitempty"`
	StartTime               Milliseconds           `json:"startTime"`
	EndTime                 Milliseconds           `json:"endTime"`
	Attributes              map[string]any         `json:"attributes,omitempty"`
	DisplayName             string                 `json:"displayName"`
	Links                   []*Link                `json:"links,omitempty"`
	InstrumentationLibrary  InstrumentationLibrary `json:"instrumentationLibrary,omitempty"`
	SpanKind                string                 `json:"spanKind"`
	SameProcessAsParentSpan BoolValue              `json:"sameProcessAsParentSpan"`
	Status                  Status                 `json:"status"`
	TimeEvents              TimeEvents             `json:"timeEvents,omitempty"`
}

type TimeEvents struct {
	TimeEvent []TimeEvent `json:"timeEvent,omitempty"`
}

type BoolValue struct {
	Value bool `json:"value,omitempty"`
}

type TimeEvent struct {
	Time       Milliseconds `json:"time,omitempty"`
	Annotation Annotation   `json:"annotation,omitempty"`
}

type Annotation struct {
	Attributes  map[string]any `json:"attributes,omitempty"`
	Description string         `json:"description,omitempty"`
}

// SpanContext contains identifying trace information about a span.
type SpanContext struct {
	TraceID    string `json:"traceId,omitempty"`
	SpanID     string `json:"spanId"`
	IsRemote   bool   `json:"isRemote"`
	TraceFlags int    `json:"traceFlags"`
}

// Link describes the relationship between two spans.
type Link struct {
	SpanContext            SpanContext    `json:"spanContext,omitempty"`
	Attributes             map[string]any `json:"attributes,omitempty"`
	DroppedAttributesCount int            `json:"droppedAttributesCount"`
}

// InstrumentationLibrary mirrors go.opentelemetry.io/otel/sdk/instrumentation.Library
// with JSON field names matched to the wire format.
type InstrumentationLibrary struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	SchemaURL string `json:"schemaUrl,omitempty"`
}

// Status mirrors go.opentelemetry.io/otel/sdk/trace.Status.
type Status struct {
	Code        uint32 `json:"code"`
	Description string `json:"description,omitempty"`
}

// Query restricts a List call.
type Query struct {
	Limit             int
	ContinuationToken string
}

// ErrBadQuery is returned by List when the query cannot be satisfied.
var ErrBadQuery = errors.New("tracing: bad query")

const defaultListLimit = 10

// Store is the TraceSink persistence contract: the engine writes completed
// traces here and a viewer reads them back. Implementations may be no-ops.
type Store interface {
	Save(ctx context.Context, id string, td *Data) error
	Load(ctx context.Context, id string) (*Data, error)
	List(ctx context.Context, q *Query) (tds []*Data, continuationToken string, err error)
}

// FileStore is a Store that keeps one JSON file per trace ID in a directory.
// Saves to an existing ID merge spans and overwrite the other fields, so that
// successive drives of the same flow accumulate into a single trace.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) filename(id string) string {
	return filepath.Join(s.dir, base.Clean(id)+".json")
}

func (s *FileStore) Save(ctx context.Context, id string, td *Data) error {
	existing, err := s.Load(ctx, id)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if existing != nil {
		if existing.Spans == nil {
			existing.Spans = map[string]*SpanData{}
		}
		for sid, sd := range td.Spans {
			existing.Spans[sid] = sd
		}
		existing.TraceID = id
		if td.DisplayName != "" {
			existing.DisplayName = td.DisplayName
		}
		existing.StartTime = td.StartTime
		existing.EndTime = td.EndTime
		td = existing
	} else {
		td.TraceID = id
	}
	return base.WriteJSONFile(s.filename(id), td)
}

func (s *FileStore) Load(ctx context.Context, id string) (*Data, error) {
	var td Data
	if err := base.ReadJSONFile(s.filename(id), &td); err != nil {
		return nil, err
	}
	return &td, nil
}

// List returns traces ordered by most-recently-modified first.
func (s *FileStore) List(ctx context.Context, q *Query) ([]*Data, string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, "", err
	}
	type fi struct {
		id  string
		mod int64
	}
	var files []fi
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, "", err
		}
		id := e.Name()
		id = id[:len(id)-len(filepath.Ext(id))]
		files = append(files, fi{id, info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod > files[j].mod })

	start, end, err := listRange(q, len(files))
	if err != nil {
		return nil, "", err
	}
	var tds []*Data
	for _, f := range files[start:end] {
		td, err := s.Load(context.Background(), f.id)
		if err != nil {
			return nil, "", err
		}
		tds = append(tds, td)
	}
	var next string
	if end < len(files) {
		next = strconv.Itoa(end)
	}
	return tds, next, nil
}

// listRange computes the [start, end) slice bounds for a Query over a
// collection of size total, applying the default limit and validating the
// continuation token.
func listRange(q *Query, total int) (start, end int, err error) {
	limit := defaultListLimit
	if q != nil && q.Limit != 0 {
		if q.Limit < 0 {
			return 0, 0, fmt.Errorf("%w: negative limit", ErrBadQuery)
		}
		limit = q.Limit
	}
	if q != nil && q.ContinuationToken != "" {
		n, err := strconv.Atoi(q.ContinuationToken)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: continuation token is not a number: %v", ErrBadQuery, err)
		}
		if n < 0 || n > total {
			return 0, 0, fmt.Errorf("%w: continuation token out of range", ErrBadQuery)
		}
		start = n
	}
	end = start + limit
	if end > total {
		end = total
	}
	return start, end, nil
}
