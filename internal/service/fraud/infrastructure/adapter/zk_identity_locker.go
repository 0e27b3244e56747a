package adapter

import (
	"context"
	"time"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/zookeeper"
)

// ZookeeperIdentityLocker 实现 port.IdentityLocker，同一身份的结账评估在集群内串行执行。
type ZookeeperIdentityLocker struct {
	conn    zookeeper.NodeStore
	root    string
	timeout time.Duration
}

func NewZookeeperIdentityLocker(conn zookeeper.NodeStore, root string, timeout time.Duration) *ZookeeperIdentityLocker {
	return &ZookeeperIdentityLocker{conn: conn, root: root, timeout: timeout}
}

func (l *ZookeeperIdentityLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, l.root, key, l.timeout)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to release identity lock")
		}
	}, nil
}
