// Copyright 2024 Google LLC
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/flowrun/flowrun/internal/base"
)

// ErrBackendUnavailable is returned by a StateStore when the underlying
// backend is unreachable; the caller may retry.
var ErrBackendUnavailable = errors.New("flow: state store backend unavailable")

// ErrCorruption is returned by a StateStore when a persisted record cannot
// be decoded; this is fatal, not retryable.
var ErrCorruption = errors.New("flow: state store corruption")

// StateStoreQuery restricts a StateStore.List call. Limit defaults to 10.
type StateStoreQuery struct {
	Limit             int
	ContinuationToken string
}

// StateStore loads, saves, and lists persisted FlowStates. It is the single
// concurrency boundary between drives of the same flowId: its read/save pair
// is the durability unit, and the engine itself never locks across it.
type StateStore interface {
	// Load returns the FlowState for id, or (nil, nil) if none exists.
	Load(ctx context.Context, id string) (*FlowState, error)
	// Save idempotently overwrites the FlowState stored under id.
	Save(ctx context.Context, id string, state *FlowState) error
	// List returns FlowStates ordered by startTime descending.
	List(ctx context.Context, q *StateStoreQuery) (states []*FlowState, continuationToken string, err error)
}

// FileStateStore is a StateStore that keeps one JSON file per flowId in a
// directory. Adequate for development and single-process deployments.
type FileStateStore struct {
	dir string
}

// NewFileStateStore creates a FileStateStore rooted at dir, creating it if
// it does not exist.
func NewFileStateStore(dir string) (*FileStateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("flow: %w: %v", ErrBackendUnavailable, err)
	}
	return &FileStateStore{dir: dir}, nil
}

func (s *FileStateStore) path(id string) string {
	return filepath.Join(s.dir, base.Clean(id)+".json")
}

func (s *FileStateStore) Load(ctx context.Context, id string) (*FlowState, error) {
	var fs FlowState
	err := base.ReadJSONFile(s.path(id), &fs)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("flow: %w: %v", ErrCorruption, err)
	}
	return &fs, nil
}

func (s *FileStateStore) Save(ctx context.Context, id string, state *FlowState) error {
	if err := base.WriteJSONFile(s.path(id), state); err != nil {
		return fmt.Errorf("flow: %w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (s *FileStateStore) List(ctx context.Context, q *StateStoreQuery) ([]*FlowState, string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, "", fmt.Errorf("flow: %w: %v", ErrBackendUnavailable, err)
	}
	var all []*FlowState
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := e.Name()
		id = id[:len(id)-len(filepath.Ext(id))]
		fs, err := s.Load(ctx, id)
		if err != nil {
			return nil, "", err
		}
		all = append(all, fs)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })

	limit := 10
	if q != nil && q.Limit != 0 {
		limit = q.Limit
	}
	start := 0
	if q != nil && q.ContinuationToken != "" {
		n, err := strconv.Atoi(q.ContinuationToken)
		if err != nil || n < 0 || n > len(all) {
			return nil, "", fmt.Errorf("flow: invalid continuation token %q", q.ContinuationToken)
		}
		start = n
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	var next string
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return all[start:end], next, nil
}
