// internal/service/fraud/domain/repository.go
package domain

import (
	"context"
	"time"
)

// OrderRecordStore 是订单库的出站接口，由基础设施层实现。
type OrderRecordStore interface {
	// CountRecent 统计满足查询条件的订单数。
	CountRecent(ctx context.Context, q RecentQuery) (int64, error)
	// FindRecent 返回满足查询条件的订单，按创建时间倒序，最多 q.Limit 条。
	FindRecent(ctx context.Context, q RecentQuery) ([]OrderRecord, error)
}

// CustomerHistory 用于判断老客户。
type CustomerHistory interface {
	CountCompleted(ctx context.Context, phoneVariants []string) (int64, error)
}

// OrderWriter 写入来自店铺订单事件流的订单快照。
type OrderWriter interface {
	Upsert(ctx context.Context, record OrderRecord) error
}

// AllowList 是白名单查询接口，IP 查询支持 CIDR 网段。
type AllowList interface {
	ContainsPhone(ctx context.Context, p PhoneNumber) (bool, error)
	ContainsIP(ctx context.Context, ip string) (bool, error)
}

// AllowListManager 是可在运行时修改的白名单。
type AllowListManager interface {
	AllowList
	Add(ctx context.Context, e AllowEntry) error
	Remove(ctx context.Context, e AllowEntry) error
	List(ctx context.Context) ([]string, error)
}

// BlockList 是黑名单存储，管理员维护，结账时只读。
type BlockList interface {
	Add(ctx context.Context, e BlockEntry) error
	Remove(ctx context.Context, t BlockType, value string) error
	Contains(ctx context.Context, t BlockType, value string) (bool, error)
	List(ctx context.Context, t BlockType) ([]BlockEntry, error)
}

// CheckoutAttemptStore 记录尚未形成订单的结账尝试，供冷却检查使用。
type CheckoutAttemptStore interface {
	RecordAttempt(ctx context.Context, attemptID string, identities []Identity, at time.Time) error
	CountAttempts(ctx context.Context, identity Identity, window MatchWindow) (int64, error)
}
