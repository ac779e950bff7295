// Package statuscache mirrors upload task state into Redis so other
// processes can read it after the task has left the queue.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/config"
	"github.com/coah80/reelup/internal/upload"
)

const keyPrefix = "upload:status:"

var ErrNotFound = errors.New("statuscache: task not found")

const writeTimeout = 2 * time.Second

func Key(id string) string { return keyPrefix + id }

// Mirror writes every task update to Redis under Key(id).
type Mirror struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func New(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Mirror {
	return &Mirror{rdb: rdb, ttl: ttl, log: log.Named("statuscache")}
}

// Connect dials cfg.Addr and checks the server answers.
func Connect(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*Mirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("statuscache: ping %s: %w", cfg.Addr, err)
	}
	return New(rdb, cfg.TTL, log), nil
}

func (m *Mirror) TaskUpdated(v upload.TaskView) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := m.Put(ctx, v); err != nil {
		m.log.Warn("mirror write failed", zap.String("task", v.ID), zap.Error(err))
	}
}

func (m *Mirror) Put(ctx context.Context, v upload.TaskView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, Key(v.ID), b, m.ttl).Err()
}

func (m *Mirror) Get(ctx context.Context, id string) (upload.TaskView, error) {
	b, err := m.rdb.Get(ctx, Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return upload.TaskView{}, ErrNotFound
	}
	if err != nil {
		return upload.TaskView{}, err
	}
	var v upload.TaskView
	if err := json.Unmarshal(b, &v); err != nil {
		return upload.TaskView{}, fmt.Errorf("statuscache: decode %s: %w", id, err)
	}
	return v, nil
}

func (m *Mirror) Close() error {
	return m.rdb.Close()
}
