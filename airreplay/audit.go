package airreplay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// SaveRestoreAuditor is an optional sink notified of every SaveRestore key
// recorded, independent of the .txt mirror (spec §4.A). Attach one with
// Engine.SetAuditor to get a live duplicate-key/divergence feed outside the
// trace files themselves.
type SaveRestoreAuditor interface {
	RecordSaveRestore(key string)
}

// RedisSaveRestoreAudit mirrors every SaveRestore key into a Redis list via
// LPUSH, grounded on infra.GoRedisAdapter's go-redis v9 connection-pool
// setup. It is best-effort: a Redis error is logged and otherwise ignored,
// since audit delivery is never allowed to affect replay correctness.
type RedisSaveRestoreAudit struct {
	rdb       *redis.Client
	listKey   string
	timeout   time.Duration
}

// NewRedisSaveRestoreAudit connects to addr and returns an auditor that
// LPUSHes onto listKey.
func NewRedisSaveRestoreAudit(addr, password string, db int, listKey string) (*RedisSaveRestoreAudit, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     8,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("airreplay: redis audit ping failed (%s): %w", addr, err)
	}

	return &RedisSaveRestoreAudit{rdb: rdb, listKey: listKey, timeout: 2 * time.Second}, nil
}

// RecordSaveRestore implements SaveRestoreAuditor.
func (a *RedisSaveRestoreAudit) RecordSaveRestore(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.rdb.LPush(ctx, a.listKey, key).Err(); err != nil {
		slog.Warn("airreplay: redis audit push failed", "key", key, "err", err)
	}
}

// Close releases the underlying Redis connection pool.
func (a *RedisSaveRestoreAudit) Close() error {
	return a.rdb.Close()
}
