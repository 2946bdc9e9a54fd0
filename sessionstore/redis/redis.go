// Package redis implements sessionstore.Store on top of
// github.com/redis/go-redis/v9: each session is one JSON blob under a
// prefixed key, with a short-lived SETNX lock guarding the read-modify-write
// AppendEvents sequence, mirroring the pack's RedisCheckpointer lock
// pattern.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/flow/event"
	"goa.design/flow/sessionstore"
)

// Config configures the Redis-backed store.
type Config struct {
	// Prefix namespaces every key this store writes.
	Prefix string
	// TTL expires session records after the given duration of
	// inactivity; zero disables expiration.
	TTL time.Duration
	// LockTimeout bounds how long AppendEvents waits to acquire the
	// per-session write lock.
	LockTimeout time.Duration
	// LockExpiry bounds how long a held lock survives a crashed holder.
	LockExpiry time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:      "flow:session:",
		TTL:         0,
		LockTimeout: 5 * time.Second,
		LockExpiry:  10 * time.Second,
	}
}

// Store is a sessionstore.Store backed by Redis.
type Store struct {
	client *redis.Client
	cfg    Config
}

// New wraps an existing *redis.Client. Use DefaultConfig() as a starting
// point for cfg.
func New(client *redis.Client, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "flow:session:"
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.LockExpiry <= 0 {
		cfg.LockExpiry = 10 * time.Second
	}
	return &Store{client: client, cfg: cfg}
}

type doc struct {
	AppName string         `json:"app_name"`
	Version string         `json:"version"`
	Events  []*event.Event `json:"events"`
}

// CreateSession implements sessionstore.Store.
func (s *Store) CreateSession(ctx context.Context, id, appName string) error {
	key := s.key(id)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("sessionstore/redis: create %s: %w", id, err)
	}
	if exists > 0 {
		return nil
	}
	data, err := json.Marshal(doc{AppName: appName})
	if err != nil {
		return fmt.Errorf("sessionstore/redis: marshal %s: %w", id, err)
	}
	if err := s.client.Set(ctx, key, data, s.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("sessionstore/redis: create %s: %w", id, err)
	}
	return nil
}

// AppendEvents implements sessionstore.Store.
func (s *Store) AppendEvents(ctx context.Context, id string, events []*event.Event) error {
	lockKey := s.key(id) + ":lock"
	if err := s.acquireLock(ctx, lockKey); err != nil {
		return err
	}
	defer s.client.Del(ctx, lockKey)

	d, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	d.Events = append(d.Events, events...)

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("sessionstore/redis: marshal %s: %w", id, err)
	}
	if err := s.client.Set(ctx, s.key(id), data, s.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("sessionstore/redis: append %s: %w", id, err)
	}
	return nil
}

// LoadSession implements sessionstore.Store.
func (s *Store) LoadSession(ctx context.Context, id string) (sessionstore.Record, error) {
	d, err := s.get(ctx, id)
	if err != nil {
		return sessionstore.Record{}, err
	}
	return sessionstore.Record{ID: id, AppName: d.AppName, Version: d.Version, Events: d.Events}, nil
}

// ListSessions implements sessionstore.Store.
func (s *Store) ListSessions(ctx context.Context, appName string) ([]sessionstore.SessionSummary, error) {
	var summaries []sessionstore.SessionSummary
	var cursor uint64
	pattern := s.cfg.Prefix + "*"

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("sessionstore/redis: scan: %w", err)
		}
		for _, key := range keys {
			if len(key) >= 5 && key[len(key)-5:] == ":lock" {
				continue
			}
			raw, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var d doc
			if err := json.Unmarshal(raw, &d); err != nil {
				continue
			}
			if d.AppName != appName {
				continue
			}
			var updated time.Time
			if n := len(d.Events); n > 0 {
				updated = d.Events[n-1].CreatedAt
			}
			summaries = append(summaries, sessionstore.SessionSummary{
				ID:         key[len(s.cfg.Prefix):],
				AppName:    d.AppName,
				Status:     sessionstore.DeriveStatus(d.Events),
				EventCount: len(d.Events),
				UpdatedAt:  updated,
			})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt) })
	return summaries, nil
}

func (s *Store) get(ctx context.Context, id string) (doc, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return doc{}, sessionstore.ErrNotFound
		}
		return doc{}, fmt.Errorf("sessionstore/redis: get %s: %w", id, err)
	}
	var d doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return doc{}, fmt.Errorf("sessionstore/redis: unmarshal %s: %w", id, err)
	}
	return d, nil
}

func (s *Store) key(id string) string {
	return s.cfg.Prefix + id
}

func (s *Store) acquireLock(ctx context.Context, lockKey string) error {
	deadline := time.Now().Add(s.cfg.LockTimeout)
	for time.Now().Before(deadline) {
		ok, err := s.client.SetNX(ctx, lockKey, "locked", s.cfg.LockExpiry).Result()
		if err != nil {
			return fmt.Errorf("sessionstore/redis: acquire lock %s: %w", lockKey, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return fmt.Errorf("sessionstore/redis: lock timeout on %s", lockKey)
}
