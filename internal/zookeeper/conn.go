// internal/zookeeper/conn.go
package zookeeper

import (
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog/log"
)

// NodeStore 是分布式锁用到的 ZooKeeper 操作，*zk.Conn 满足该接口。
type NodeStore interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Delete(path string, version int32) error
}

// Conn 包装 zk 连接
type Conn struct {
	*zk.Conn
}

// Connect 建立 ZooKeeper 会话，会话状态变化写入日志。
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	zkLog := log.With().Str("component", "zookeeper").Logger()
	c, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(&zkLog))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper %v: %w", servers, err)
	}

	go func() {
		for ev := range events {
			switch ev.State {
			case zk.StateHasSession:
				log.Info().Strs("servers", servers).Msg("✅ ZooKeeper session established.")
			case zk.StateExpired, zk.StateDisconnected:
				log.Warn().Str("state", ev.State.String()).Msg("ZooKeeper session lost")
			}
		}
	}()
	return &Conn{Conn: c}, nil
}
