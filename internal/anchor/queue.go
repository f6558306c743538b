package anchor

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Leaf is one pending forensic leaf awaiting the next anchor batch.
type Leaf struct {
	Hash    string `json:"hash"`
	AlertID string `json:"alert_id"`
}

// Queue is C9's pending-leaf queue. Single-writer-per-call with its own
// internal synchronization; the batcher is the sole consumer (spec.md §5).
type Queue interface {
	Enqueue(ctx context.Context, leaf Leaf) error
	// Drain removes and returns up to max pending leaves, oldest first. A
	// max <= 0 drains everything.
	Drain(ctx context.Context, max int) ([]Leaf, error)
	Len(ctx context.Context) (int, error)
}

// MemQueue is an in-process queue, the default for a single proxy/alertd
// deployment.
type MemQueue struct {
	mu    sync.Mutex
	items []Leaf
}

// NewMemQueue returns an empty in-memory Queue.
func NewMemQueue() *MemQueue { return &MemQueue{} }

func (q *MemQueue) Enqueue(_ context.Context, leaf Leaf) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, leaf)
	return nil
}

func (q *MemQueue) Drain(_ context.Context, max int) ([]Leaf, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || max > len(q.items) {
		max = len(q.items)
	}
	out := q.items[:max]
	q.items = q.items[max:]
	return out, nil
}

func (q *MemQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// RedisQueue backs the pending-leaf queue with a Redis list so multiple
// sentinel-alertd replicas anchor from one shared, ordered backlog — the
// cluster-wide-state pattern the teacher uses for its override/block scan
// (internal/rl/mitigation.go's RefreshActiveGauges), applied here to a FIFO
// instead of a key scan.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisQueue builds a Queue backed by Redis list key.
func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, leaf Leaf) error {
	b, err := json.Marshal(leaf)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, q.key, b).Err()
}

func (q *RedisQueue) Drain(ctx context.Context, max int) ([]Leaf, error) {
	if max <= 0 {
		n, err := q.rdb.LLen(ctx, q.key).Result()
		if err != nil {
			return nil, err
		}
		max = int(n)
	}
	if max == 0 {
		return nil, nil
	}

	pipe := q.rdb.Pipeline()
	getCmd := pipe.LRange(ctx, q.key, 0, int64(max-1))
	trimCmd := pipe.LTrim(ctx, q.key, int64(max), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	raw, err := getCmd.Result()
	if err != nil {
		return nil, err
	}
	_ = trimCmd

	out := make([]Leaf, 0, len(raw))
	for _, r := range raw {
		var l Leaf
		if err := json.Unmarshal([]byte(r), &l); err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	return int(n), err
}
