package stores

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	backend "github.com/redis/go-redis/v9"
)

// EntitySnapshot is the live status of one entity.
type EntitySnapshot struct {
	EntityID  string    `json:"entity_id"`
	Path      string    `json:"path"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisSnapshotStore mirrors entity statuses of running sequences into Redis hashes
// so that dashboards can read them without going through the engine.
type RedisSnapshotStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisSnapshotStore.
type RedisOption func(*RedisSnapshotStore)

// WithTTL expires a run's snapshot ttl after its last update.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisSnapshotStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisSnapshotStore) {
		s.prefix = prefix
	}
}

// NewRedisSnapshotStore connects to the Redis server at address.
func NewRedisSnapshotStore(address, password string, db int, opts ...RedisOption) *RedisSnapshotStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a snapshot store from an existing client.
func NewFromClient(client *backend.Client, opts ...RedisOption) *RedisSnapshotStore {
	store := &RedisSnapshotStore{
		client: client,
		prefix: "skyrun:",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisSnapshotStore) runKey(runID string) string {
	return s.prefix + "run:" + runID + ":entities"
}

func (s *RedisSnapshotStore) activeKey() string {
	return s.prefix + "active"
}

// SetActive marks runID as the active run. An empty runID clears it.
func (s *RedisSnapshotStore) SetActive(ctx context.Context, runID string) error {
	if runID == "" {
		return s.client.Del(ctx, s.activeKey()).Err()
	}
	if err := s.client.Set(ctx, s.activeKey(), runID, 0).Err(); err != nil {
		return fmt.Errorf("failed to set active run: %w", err)
	}
	return nil
}

// Active returns the active run, or "" when none is running.
func (s *RedisSnapshotStore) Active(ctx context.Context) (string, error) {
	runID, err := s.client.Get(ctx, s.activeKey()).Result()
	if errors.Is(err, backend.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get active run: %w", err)
	}
	return runID, nil
}

// Put stores the status of one entity and refreshes the run's TTL.
func (s *RedisSnapshotStore) Put(ctx context.Context, runID string, snap EntitySnapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.runKey(runID), snap.EntityID, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.runKey(runID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot to redis: %w", err)
	}
	return nil
}

// Snapshot returns every entity of a run sorted by path.
func (s *RedisSnapshotStore) Snapshot(ctx context.Context, runID string) ([]EntitySnapshot, error) {
	values, err := s.client.HGetAll(ctx, s.runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot from redis: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("snapshot of run %s: %w", runID, ErrNotFound)
	}

	out := make([]EntitySnapshot, 0, len(values))
	for id, raw := range values {
		var snap EntitySnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot of %s: %w", id, err)
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}

// Delete removes a run's snapshot.
func (s *RedisSnapshotStore) Delete(ctx context.Context, runID string) error {
	return s.client.Del(ctx, s.runKey(runID)).Err()
}

// HealthCheck pings the server.
func (s *RedisSnapshotStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}
