package adapter

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"fraudguard/internal/service/fraud/domain"
)

const blockKeyPrefix = "fraud:block:"

// RedisBlockList 实现 domain.BlockList。每种类型一个 hash：field 为规范化后的值，value 为条目 JSON。
type RedisBlockList struct {
	rdb redis.UniversalClient
}

func NewRedisBlockList(rdb redis.UniversalClient) *RedisBlockList {
	return &RedisBlockList{rdb: rdb}
}

func blockKey(t domain.BlockType) string { return blockKeyPrefix + string(t) }

func (b *RedisBlockList) Add(ctx context.Context, e domain.BlockEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal block entry")
	}
	return errors.Wrap(b.rdb.HSet(ctx, blockKey(e.Type), e.Value, payload).Err(), "add block entry")
}

func (b *RedisBlockList) Remove(ctx context.Context, t domain.BlockType, value string) error {
	n, err := b.rdb.HDel(ctx, blockKey(t), value).Result()
	if err != nil {
		return errors.Wrap(err, "remove block entry")
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (b *RedisBlockList) Contains(ctx context.Context, t domain.BlockType, value string) (bool, error) {
	ok, err := b.rdb.HExists(ctx, blockKey(t), value).Result()
	return ok, errors.Wrap(err, "check block entry")
}

// List 返回按创建时间排序的条目；无法解析的历史数据只保留值。
func (b *RedisBlockList) List(ctx context.Context, t domain.BlockType) ([]domain.BlockEntry, error) {
	all, err := b.rdb.HGetAll(ctx, blockKey(t)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list block entries")
	}
	entries := make([]domain.BlockEntry, 0, len(all))
	for value, raw := range all {
		var e domain.BlockEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			e = domain.BlockEntry{Type: t, Value: value}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Value < entries[j].Value
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}
