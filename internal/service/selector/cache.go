package selector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashwinyue/next-prompt/internal/service/registry"
)

const (
	routingKeyPrefix = "prompt:routing:"
	// 代数键不能匹配快照键的 SCAN 模式，否则失效时会被一并删除
	generationKeyPrefix = "prompt:routing-gen:"
)

// RoutingCache 基于 Redis 的路由快照缓存
type RoutingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRoutingCache 创建路由快照缓存
func NewRoutingCache(client *redis.Client, ttl time.Duration) *RoutingCache {
	return &RoutingCache{client: client, ttl: ttl}
}

func routingKey(promptName, language string) string {
	return fmt.Sprintf("%s%s:%s", routingKeyPrefix, promptName, language)
}

func generationKey(promptName string) string {
	return generationKeyPrefix + promptName
}

// Get 读取路由快照，未命中时返回 nil
func (c *RoutingCache) Get(ctx context.Context, promptName, language string) (*registry.ActiveSet, error) {
	data, err := c.client.Get(ctx, routingKey(promptName, language)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var set registry.ActiveSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode routing snapshot: %w", err)
	}
	return &set, nil
}

// Generation 读取提示词当前的快照代数，每次失效加一
func (c *RoutingCache) Generation(ctx context.Context, promptName string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(promptName)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set 在代数仍为 gen 时写入路由快照，返回是否写入
// 读库期间发生过失效的快照会被丢弃
func (c *RoutingCache) Set(ctx context.Context, promptName, language string, gen int64, set *registry.ActiveSet) (bool, error) {
	data, err := json.Marshal(set)
	if err != nil {
		return false, err
	}

	genKey := generationKey(promptName)
	written := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, routingKey(promptName, language), data, c.ttl)
			return nil
		})
		written = err == nil
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return written, err
}

// Invalidate 删除提示词所有语言的路由快照
func (c *RoutingCache) Invalidate(ctx context.Context, promptName string) error {
	// 先推进代数，使正在读库的写入方放弃写入
	if err := c.client.Incr(ctx, generationKey(promptName)).Err(); err != nil {
		return err
	}

	var cursor uint64
	pattern := routingKeyPrefix + promptName + ":*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
