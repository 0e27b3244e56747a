package adapter

import (
	"context"
	"net/netip"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"fraudguard/internal/service/fraud/domain"
)

const (
	allowExactKey = "fraud:allow:exact"
	allowCIDRKey  = "fraud:allow:cidr"
)

// RedisAllowList 是运行时可修改的白名单。手机号和单个 IP 放在同一个 set，网段单独一个 set。
type RedisAllowList struct {
	rdb redis.UniversalClient
}

func NewRedisAllowList(rdb redis.UniversalClient) *RedisAllowList {
	return &RedisAllowList{rdb: rdb}
}

func allowKey(e domain.AllowEntry) string {
	if e.IsCIDR() {
		return allowCIDRKey
	}
	return allowExactKey
}

func (a *RedisAllowList) ContainsPhone(ctx context.Context, p domain.PhoneNumber) (bool, error) {
	if p.IsZero() {
		return false, nil
	}
	ok, err := a.rdb.SIsMember(ctx, allowExactKey, p.String()).Result()
	return ok, errors.Wrap(err, "check allowlisted phone")
}

func (a *RedisAllowList) ContainsIP(ctx context.Context, ip string) (bool, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false, nil
	}
	addr = addr.Unmap()

	ok, err := a.rdb.SIsMember(ctx, allowExactKey, addr.String()).Result()
	if err != nil {
		return false, errors.Wrap(err, "check allowlisted ip")
	}
	if ok {
		return true, nil
	}

	cidrs, err := a.rdb.SMembers(ctx, allowCIDRKey).Result()
	if err != nil {
		return false, errors.Wrap(err, "load allowlisted cidrs")
	}
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		if p, err := netip.ParsePrefix(c); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return domain.ContainsAddr(addr, nil, prefixes), nil
}

func (a *RedisAllowList) Add(ctx context.Context, e domain.AllowEntry) error {
	return errors.Wrap(a.rdb.SAdd(ctx, allowKey(e), e.Key()).Err(), "add allow entry")
}

func (a *RedisAllowList) Remove(ctx context.Context, e domain.AllowEntry) error {
	n, err := a.rdb.SRem(ctx, allowKey(e), e.Key()).Result()
	if err != nil {
		return errors.Wrap(err, "remove allow entry")
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List 返回全部条目，按字典序排列。
func (a *RedisAllowList) List(ctx context.Context) ([]string, error) {
	exact, err := a.rdb.SMembers(ctx, allowExactKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list allow entries")
	}
	cidrs, err := a.rdb.SMembers(ctx, allowCIDRKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list allow entries")
	}
	out := append(exact, cidrs...)
	sort.Strings(out)
	return out, nil
}
