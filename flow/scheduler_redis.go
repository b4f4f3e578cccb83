// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flowrun/flowrun/logger"
)

// RedisScheduler persists scheduled redeliveries in a Redis sorted set
// scored by due time, so sleeping drives survive a process restart: any
// process running a RedisScheduler against the same key can pick up a due
// entry, not just the one that created it.
type RedisScheduler struct {
	client   *redis.Client
	key      string
	registry *Registry
	poll     time.Duration
	done     chan struct{}
}

type scheduledEntry struct {
	FlowName string   `json:"flowName"`
	Envelope Envelope `json:"envelope"`
}

// NewRedisScheduler starts a background poller that checks key every poll
// interval for due entries and dispatches them through registry. Call Stop
// to shut the poller down.
func NewRedisScheduler(client *redis.Client, key string, registry *Registry, poll time.Duration) *RedisScheduler {
	if poll <= 0 {
		poll = time.Second
	}
	s := &RedisScheduler{client: client, key: key, registry: registry, poll: poll, done: make(chan struct{})}
	go s.run()
	return s
}

// Stop ends the background poller. It does not delete already-queued entries.
func (s *RedisScheduler) Stop() {
	close(s.done)
}

func (s *RedisScheduler) Schedule(ctx context.Context, flowName string, envelope Envelope, delaySeconds float64) error {
	raw, err := json.Marshal(scheduledEntry{FlowName: flowName, Envelope: envelope})
	if err != nil {
		return fmt.Errorf("flow: marshal scheduled entry: %w", err)
	}
	due := time.Now().Add(time.Duration(delaySeconds * float64(time.Second)))
	member := uuid.NewString() + ":" + string(raw)
	if err := s.client.ZAdd(ctx, s.key, redis.Z{Score: float64(due.UnixNano()), Member: member}).Err(); err != nil {
		return fmt.Errorf("flow: %w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (s *RedisScheduler) run() {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *RedisScheduler) tick() {
	ctx := context.Background()
	now := float64(time.Now().UnixNano())
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		logger.FromContext(ctx).Error("redis scheduler poll failed", "err", err)
		return
	}
	for _, m := range members {
		if removed, err := s.client.ZRem(ctx, s.key, m).Result(); err != nil || removed == 0 {
			// Another process already claimed this entry.
			continue
		}
		s.dispatchMember(ctx, m)
	}
}

func (s *RedisScheduler) dispatchMember(ctx context.Context, member string) {
	idx := indexOfColon(member)
	if idx < 0 {
		logger.FromContext(ctx).Error("malformed scheduled entry", "member", member)
		return
	}
	var entry scheduledEntry
	if err := json.Unmarshal([]byte(member[idx+1:]), &entry); err != nil {
		logger.FromContext(ctx).Error("malformed scheduled entry payload", "err", err)
		return
	}
	d, ok := s.registry.Lookup(entry.FlowName)
	if !ok {
		logger.FromContext(ctx).Error("scheduled redelivery for unknown flow", "flow", entry.FlowName)
		return
	}
	if _, err := d.Dispatch(ctx, entry.Envelope); err != nil {
		logger.FromContext(ctx).Error("scheduled redelivery failed", "flow", entry.FlowName, "err", err)
	}
}

func indexOfColon(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
