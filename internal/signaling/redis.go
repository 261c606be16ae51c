package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"camlink/internal/protocol"
)

// RedisCache shares signaling state between instances behind the same
// broker. Offers are stored as JSON strings, candidates as JSON lists.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisCache wraps rdb. Keys are namespaced with prefix, e.g.
// "camlink:" gives "camlink:offer:<sid>".
func NewRedisCache(rdb redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) offerKey(sid string) string     { return c.prefix + "offer:" + sid }
func (c *RedisCache) candidateKey(sid string) string { return c.prefix + "candidates:" + sid }

func (c *RedisCache) PutOffer(ctx context.Context, sid string, msg protocol.WebRTCMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, c.offerKey(sid), data, 0).Err(); err != nil {
		return fmt.Errorf("redis put offer %s: %w", sid, err)
	}
	return nil
}

func (c *RedisCache) GetOffer(ctx context.Context, sid string) (protocol.WebRTCMessage, error) {
	var msg protocol.WebRTCMessage
	data, err := c.rdb.Get(ctx, c.offerKey(sid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return msg, fmt.Errorf("offer %s: %w", sid, ErrNotFound)
	}
	if err != nil {
		return msg, fmt.Errorf("redis get offer %s: %w", sid, err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode offer %s: %w", sid, err)
	}
	return msg, nil
}

func (c *RedisCache) AppendCandidate(ctx context.Context, sid string, msg protocol.WebRTCMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.rdb.RPush(ctx, c.candidateKey(sid), data).Err(); err != nil {
		return fmt.Errorf("redis append candidate %s: %w", sid, err)
	}
	return nil
}

// DrainCandidates reads and deletes the list in one MULTI so a candidate
// appended concurrently is either returned now or kept for the next drain.
func (c *RedisCache) DrainCandidates(ctx context.Context, sid string) ([]protocol.WebRTCMessage, error) {
	key := c.candidateKey(sid)
	var items *redis.StringSliceCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis drain candidates %s: %w", sid, err)
	}

	raw := items.Val()
	out := make([]protocol.WebRTCMessage, 0, len(raw))
	for _, s := range raw {
		var msg protocol.WebRTCMessage
		if err := json.Unmarshal([]byte(s), &msg); err != nil {
			return out, fmt.Errorf("decode candidate %s: %w", sid, err)
		}
		out = append(out, msg)
	}
	return out, nil
}
