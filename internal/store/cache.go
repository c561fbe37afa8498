package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"condcal/internal/model"
)

const cacheKeyPrefix = "condcal:"

// errStale aborts a cache fill that raced with a write.
var errStale = errors.New("cache fill raced with a write")

// Cache wraps a Store with Redis-backed caching for day task lists and
// condition lists. Writes go to the wrapped Store first and then evict the
// owner's cached entries. Redis failures never fail a read; the wrapped
// Store is used instead.
//
// Every eviction bumps a per-owner generation counter. A read records the
// generation before it hits the wrapped Store and only fills the cache if
// the counter is unchanged, so a snapshot read before a write is never
// cached after that write's eviction.
type Cache struct {
	Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store using the provided Redis client and TTL.
// A nil client or zero TTL disables caching.
func NewCache(base Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("store.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Store: base, redis: client, ttl: ttl}
}

func tasksCacheKey(ownerID string) string {
	return cacheKeyPrefix + "tasks:" + ownerID
}

func conditionsCacheKey(ownerID string) string {
	return cacheKeyPrefix + "conditions:" + ownerID
}

func genKey(dataKey string) string {
	return cacheKeyPrefix + "gen:" + dataKey
}

func (c *Cache) enabled() bool {
	return c.redis != nil && c.ttl > 0
}

// FetchTasks serves one day's tasks from a per-owner hash keyed by date.
func (c *Cache) FetchTasks(ctx context.Context, ownerID, date string) ([]model.Task, error) {
	key := tasksCacheKey(ownerID)
	gen, cacheable := "", false
	if c.enabled() {
		data, err := c.redis.HGet(ctx, key, date).Bytes()
		if err == nil {
			var tasks []model.Task
			if json.Unmarshal(data, &tasks) == nil {
				return tasks, nil
			}
			_ = c.redis.HDel(ctx, key, date).Err()
		} else if err != redis.Nil {
			_ = c.redis.Del(ctx, key).Err()
		}
		gen, cacheable = c.generation(ctx, key)
	}

	tasks, err := c.Store.FetchTasks(ctx, ownerID, date)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if data, err := json.Marshal(tasks); err == nil {
			c.fill(ctx, key, gen, func(pipe redis.Pipeliner) {
				pipe.HSet(ctx, key, date, data)
				pipe.Expire(ctx, key, c.ttl)
			})
		}
	}
	return tasks, nil
}

func (c *Cache) FetchConditions(ctx context.Context, ownerID string) ([]model.Condition, error) {
	key := conditionsCacheKey(ownerID)
	gen, cacheable := "", false
	if c.enabled() {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var conds []model.Condition
			if json.Unmarshal(data, &conds) == nil {
				return conds, nil
			}
			_ = c.redis.Del(ctx, key).Err()
		} else if err != redis.Nil {
			_ = c.redis.Del(ctx, key).Err()
		}
		gen, cacheable = c.generation(ctx, key)
	}

	conds, err := c.Store.FetchConditions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if data, err := json.Marshal(conds); err == nil {
			c.fill(ctx, key, gen, func(pipe redis.Pipeliner) {
				pipe.Set(ctx, key, data, c.ttl)
			})
		}
	}
	return conds, nil
}

func (c *Cache) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	out, err := c.Store.CreateTask(ctx, t)
	if err != nil {
		return model.Task{}, err
	}
	c.evictTasks(ctx, t.OwnerID)
	return out, nil
}

func (c *Cache) UpdateTask(ctx context.Context, t model.Task) (model.Task, error) {
	out, err := c.Store.UpdateTask(ctx, t)
	if err != nil {
		return model.Task{}, err
	}
	c.evictTasks(ctx, t.OwnerID)
	return out, nil
}

func (c *Cache) DeleteTask(ctx context.Context, ownerID, id string) error {
	if err := c.Store.DeleteTask(ctx, ownerID, id); err != nil {
		return err
	}
	c.evictTasks(ctx, ownerID)
	return nil
}

func (c *Cache) CreateCondition(ctx context.Context, cond model.Condition) (model.Condition, error) {
	out, err := c.Store.CreateCondition(ctx, cond)
	if err != nil {
		return model.Condition{}, err
	}
	c.evictConditions(ctx, cond.OwnerID)
	return out, nil
}

func (c *Cache) RenameCondition(ctx context.Context, ownerID, id, name string) (model.Condition, error) {
	out, err := c.Store.RenameCondition(ctx, ownerID, id, name)
	if err != nil {
		return model.Condition{}, err
	}
	c.evictConditions(ctx, ownerID)
	return out, nil
}

func (c *Cache) DeleteCondition(ctx context.Context, ownerID, id string) error {
	if err := c.Store.DeleteCondition(ctx, ownerID, id); err != nil {
		return err
	}
	c.evictConditions(ctx, ownerID)
	return nil
}

func (c *Cache) DeleteAccount(ctx context.Context, ownerID string) error {
	if err := c.Store.DeleteAccount(ctx, ownerID); err != nil {
		return err
	}
	c.evictTasks(ctx, ownerID)
	c.evictConditions(ctx, ownerID)
	return nil
}

// generation reports the current generation of dataKey. ok is false when
// Redis cannot be read, in which case the result must not be cached.
func (c *Cache) generation(ctx context.Context, dataKey string) (string, bool) {
	gen, err := c.redis.Get(ctx, genKey(dataKey)).Result()
	switch {
	case err == redis.Nil:
		return "0", true
	case err != nil:
		return "", false
	}
	return gen, true
}

// fill runs write in a transaction that only commits while dataKey is
// still at generation gen.
func (c *Cache) fill(ctx context.Context, dataKey, gen string, write func(redis.Pipeliner)) {
	gk := genKey(dataKey)
	// errStale and redis.TxFailedErr both leave the cache empty.
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Result()
		if err == redis.Nil {
			cur = "0"
		} else if err != nil {
			return err
		}
		if cur != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}, gk)
}

func (c *Cache) evict(ctx context.Context, dataKey string) {
	if c.redis == nil {
		return
	}
	pipe := c.redis.TxPipeline()
	pipe.Incr(ctx, genKey(dataKey))
	pipe.Del(ctx, dataKey)
	_, _ = pipe.Exec(ctx)
}

func (c *Cache) evictTasks(ctx context.Context, ownerID string) {
	c.evict(ctx, tasksCacheKey(ownerID))
}

func (c *Cache) evictConditions(ctx context.Context, ownerID string) {
	c.evict(ctx, conditionsCacheKey(ownerID))
}
