package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kamilpajak/opsdiag/internal/metrics"
	"github.com/kamilpajak/opsdiag/pkg/logger"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

// ErrNoSnapshot is returned by Load when nothing was saved yet.
var ErrNoSnapshot = errors.New("no list snapshot")

// SnapshotStore keeps the last list snapshot so a restarted console can show
// the list before the first refresh completes.
type SnapshotStore interface {
	Save(ctx context.Context, page *models.Page) error
	Load(ctx context.Context) (*models.Page, error)
}

const snapshotKey = "opsdiag:diagnosis:list"

// RedisStore is a SnapshotStore on a single Redis/Valkey node.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	key    string
	logger logger.Logger
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(addr string, db int, password string, ttl time.Duration, log logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if log == nil {
		log = logger.NewNop()
	}
	return &RedisStore{client: client, ttl: ttl, key: snapshotKey, logger: log}, nil
}

func (s *RedisStore) Save(ctx context.Context, page *models.Page) error {
	data, err := json.Marshal(page)
	if err != nil {
		metrics.CacheRequestsTotal.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		metrics.CacheRequestsTotal.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("save snapshot: %w", err)
	}
	metrics.CacheRequestsTotal.WithLabelValues("set", "success").Inc()
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*models.Page, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		metrics.CacheRequestsTotal.WithLabelValues("get", "miss").Inc()
		return nil, ErrNoSnapshot
	}
	if err != nil {
		metrics.CacheRequestsTotal.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var page models.Page
	if err := json.Unmarshal(data, &page); err != nil {
		metrics.CacheRequestsTotal.WithLabelValues("get", "error").Inc()
		s.logger.Warn("dropping unreadable list snapshot", "error", err)
		_ = s.client.Del(ctx, s.key).Err()
		return nil, ErrNoSnapshot
	}
	metrics.CacheRequestsTotal.WithLabelValues("get", "hit").Inc()
	return &page, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is a process-local SnapshotStore used when Redis is not configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, page *models.Page) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context) (*models.Page, error) {
	m.mu.RLock()
	data := m.data
	m.mu.RUnlock()
	if data == nil {
		return nil, ErrNoSnapshot
	}
	var page models.Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &page, nil
}
