// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore is a production StateStore backed by Redis: each
// FlowState is a JSON blob under "{prefix}flowstate:{id}", and a sorted set
// "{prefix}flowstates" (scored by startTime) lets List page through them in
// descending order without a full scan.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStateStore wraps an existing *redis.Client. prefix namespaces all
// keys this store touches (pass "" for none).
func NewRedisStateStore(client *redis.Client, prefix string) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: prefix}
}

func (s *RedisStateStore) key(id string) string   { return s.prefix + "flowstate:" + id }
func (s *RedisStateStore) indexKey() string        { return s.prefix + "flowstates" }

func (s *RedisStateStore) Load(ctx context.Context, id string) (*FlowState, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("flow: %w: %v", ErrBackendUnavailable, err)
	}
	var fs FlowState
	if err := json.Unmarshal(raw, &fs); err != nil {
		return nil, fmt.Errorf("flow: %w: %v", ErrCorruption, err)
	}
	return &fs, nil
}

func (s *RedisStateStore) Save(ctx context.Context, id string, state *FlowState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("flow: marshal state: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(id), raw, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(state.StartTime.UnixNano()),
			Member: id,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("flow: %w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (s *RedisStateStore) List(ctx context.Context, q *StateStoreQuery) ([]*FlowState, string, error) {
	limit := int64(10)
	if q != nil && q.Limit != 0 {
		limit = int64(q.Limit)
	}
	var start int64
	if q != nil && q.ContinuationToken != "" {
		if _, err := fmt.Sscanf(q.ContinuationToken, "%d", &start); err != nil {
			return nil, "", fmt.Errorf("flow: invalid continuation token %q", q.ContinuationToken)
		}
	}

	total, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, "", fmt.Errorf("flow: %w: %v", ErrBackendUnavailable, err)
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), start, start+limit-1).Result()
	if err != nil {
		return nil, "", fmt.Errorf("flow: %w: %v", ErrBackendUnavailable, err)
	}

	states := make([]*FlowState, 0, len(ids))
	for _, id := range ids {
		fs, err := s.Load(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if fs != nil {
			states = append(states, fs)
		}
	}

	var next string
	if end := start + int64(len(ids)); end < total {
		next = fmt.Sprintf("%d", end)
	}
	return states, next, nil
}
