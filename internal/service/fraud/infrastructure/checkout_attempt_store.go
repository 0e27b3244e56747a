package infrastructure

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	redisclient "fraudguard/internal/pkg/redis"
	"fraudguard/internal/service/fraud/domain"
)

const (
	attemptKeyPrefix    = "fraud:attempts:"
	recordAttemptScript = "record_checkout_attempt"
)

// 同一次尝试要写入多个身份的有序集合，用脚本保证原子性，顺便裁掉过期成员。
// KEYS: 身份集合; ARGV: score, member, 裁剪上界, ttl(ms)
const recordAttemptLua = `
for i, key in ipairs(KEYS) do
  redis.call('ZADD', key, ARGV[1], ARGV[2])
  redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[3])
  redis.call('PEXPIRE', key, ARGV[4])
end
return #KEYS
`

// CheckoutAttemptStore 用 Redis 有序集合记录还没有形成订单的结账尝试，score 为毫秒时间戳。
type CheckoutAttemptStore struct {
	client    *redisclient.Client
	retention time.Duration
}

// NewCheckoutAttemptStore 注册写入脚本。retention 应不小于最长的冷却时间。
func NewCheckoutAttemptStore(client *redisclient.Client, retention time.Duration) (*CheckoutAttemptStore, error) {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if err := client.LoadScriptFromContent(recordAttemptScript, recordAttemptLua); err != nil {
		return nil, err
	}
	return &CheckoutAttemptStore{client: client, retention: retention}, nil
}

func attemptKey(id domain.Identity) string {
	return attemptKeyPrefix + string(id.Kind) + ":" + id.String()
}

func (s *CheckoutAttemptStore) RecordAttempt(ctx context.Context, attemptID string, identities []domain.Identity, at time.Time) error {
	keys := make([]string, 0, len(identities))
	for _, id := range identities {
		if id.IsPlaceholder() {
			continue
		}
		keys = append(keys, attemptKey(id))
	}
	if len(keys) == 0 {
		return nil
	}
	score := at.UnixMilli()
	_, err := s.client.RunScript(ctx, recordAttemptScript, keys,
		strconv.FormatInt(score, 10),
		attemptID,
		strconv.FormatInt(score-s.retention.Milliseconds(), 10),
		strconv.FormatInt(s.retention.Milliseconds(), 10),
	)
	return errors.Wrap(err, "record checkout attempt")
}

// CountAttempts 统计窗口内的尝试次数，窗口的排除集合按尝试 ID 过滤。
func (s *CheckoutAttemptStore) CountAttempts(ctx context.Context, id domain.Identity, window domain.MatchWindow) (int64, error) {
	if id.IsPlaceholder() {
		return 0, nil
	}
	members, err := s.client.GetClient().ZRangeByScore(ctx, attemptKey(id), &redis.ZRangeBy{
		Min: strconv.FormatInt(window.Cutoff.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "count checkout attempts")
	}

	excluded := make(map[string]struct{}, len(window.Exclusion))
	for _, e := range window.Exclusion {
		excluded[e] = struct{}{}
	}
	var n int64
	for _, m := range members {
		if _, ok := excluded[m]; !ok {
			n++
		}
	}
	return n, nil
}
