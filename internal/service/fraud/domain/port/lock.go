package port

import "context"

// IdentityLocker 对同一身份的并发结账做串行化。
// 返回的 unlock 必须被调用；实现方负责超时。
type IdentityLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// NoopLocker 在未启用分布式锁时使用。
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }
