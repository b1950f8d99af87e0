// Package cache wires github.com/redis/go-redis/v9 to memoize idempotent
// Executor calls keyed by (task_id, input hash), so a retried or
// replayed EXECUTE dispatch against an unchanged input skips the
// underlying adapter entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/taskorchestrator/adapter"
	orccontext "goa.design/taskorchestrator/context"
)

// CachingExecutor wraps an adapter.Executor with a Redis-backed memoization
// layer. A cache hit for the same (task_id, input) pair returns the
// previously recorded result without invoking the wrapped Executor.
type CachingExecutor struct {
	rdb  *redis.Client
	next adapter.Executor
	ttl  time.Duration
	taskID func() string
}

// New wraps next with a Redis cache. taskID supplies the current task's id
// for key construction (the Resolver's AgentTaskInput carries no task id of
// its own).
func New(rdb *redis.Client, next adapter.Executor, ttl time.Duration, taskID func() string) *CachingExecutor {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachingExecutor{rdb: rdb, next: next, ttl: ttl, taskID: taskID}
}

type cachedResult struct {
	Result        any    `json:"result"`
	OutputSummary string `json:"output_summary"`
}

func (c *CachingExecutor) key(input orccontext.AgentTaskInput) string {
	data, _ := json.Marshal(input)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("taskorchestrator:executor:%s:%s", c.taskID(), hex.EncodeToString(sum[:]))
}

// Execute implements adapter.Executor, consulting the cache before
// delegating to the wrapped Executor and writing the result back on a miss.
func (c *CachingExecutor) Execute(ctx context.Context, input orccontext.AgentTaskInput) (adapter.ExecuteResult, error) {
	key := c.key(input)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var cached cachedResult
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			return adapter.ExecuteResult{Result: cached.Result, OutputSummary: cached.OutputSummary}, nil
		}
	} else if err != redis.Nil {
		// Cache unavailable: fall through to the underlying executor
		// rather than failing the task over a cache outage.
		_ = err
	}

	result, err := c.next.Execute(ctx, input)
	if err != nil {
		return adapter.ExecuteResult{}, err
	}

	if data, err := json.Marshal(cachedResult{Result: result.Result, OutputSummary: result.OutputSummary}); err == nil {
		c.rdb.Set(ctx, key, data, c.ttl)
	}
	return result, nil
}
