// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// DefaultLockRoot 是所有分布式锁的根节点
const DefaultLockRoot = "/fraudguard/locks"

var ErrLockTimeout = errors.New("timeout waiting for lock")

// DistributedLock 定义了一个分布式锁对象
type DistributedLock struct {
	conn     NodeStore
	path     string // 锁的路径，例如 /fraudguard/locks/phone-01712345678
	lockNode string // 成功获取锁后，自己创建的节点路径
	timeout  time.Duration
}

// NewDistributedLock 创建锁实例，并确保锁路径上的持久节点存在。
func NewDistributedLock(conn NodeStore, root, resourceID string, timeout time.Duration) (*DistributedLock, error) {
	if root == "" {
		root = DefaultLockRoot
	}
	lockPath := strings.TrimRight(root, "/") + "/" + resourceID
	if err := ensurePath(conn, lockPath); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DistributedLock{conn: conn, path: lockPath, timeout: timeout}, nil
}

// ensurePath 逐级创建持久节点，已存在的节点跳过。
func ensurePath(conn NodeStore, path string) error {
	current := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		current += "/" + part
		exists, _, err := conn.Exists(current)
		if err != nil {
			return fmt.Errorf("failed to check node %s: %w", current, err)
		}
		if exists {
			continue
		}
		if _, err := conn.Create(current, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create node %s: %w", current, err)
		}
	}
	return nil
}

// sequenceOf 取顺序节点末尾的 10 位序号。受保护节点带有随机前缀，不能直接按名字排序。
func sequenceOf(node string) string {
	if len(node) < 10 {
		return node
	}
	return node[len(node)-10:]
}

// Lock 尝试获取锁，获取不到则阻塞等待，直到超时或 ctx 取消。
func (l *DistributedLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNoNode) {
		// 锁路径可能刚被上一个持有者的 Unlock 清理掉，重建后再试一次
		if err = ensurePath(l.conn, l.path); err == nil {
			nodePath, err = l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", nil, zk.WorldACL(zk.PermAll))
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")

	deadline := time.NewTimer(l.timeout)
	defer deadline.Stop()

	for {
		// 2. 获取锁路径下的所有子节点，按序号排序
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		sort.Slice(children, func(i, j int) bool { return sequenceOf(children[i]) < sequenceOf(children[j]) })

		// 3. 判断自己是否是最小的节点
		idx := -1
		for i, child := range children {
			if child == myNodeName {
				idx = i
				break
			}
		}
		if idx < 0 {
			l.abandon()
			return errors.New("own lock node disappeared, session probably expired")
		}
		if idx == 0 {
			return nil
		}

		// 4. 不是最小节点，监听前一个节点
		exists, _, eventChan, err := l.conn.ExistsW(l.path + "/" + children[idx-1])
		if err != nil {
			l.abandon()
			return fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
			// 前一个节点有变化，重新竞争
		case <-deadline.C:
			l.abandon()
			return ErrLockTimeout
		case <-ctx.Done():
			l.abandon()
			return ctx.Err()
		}
	}
}

func (l *DistributedLock) abandon() {
	_ = l.Unlock()
}

// Unlock 释放锁，并尝试清理空的锁路径节点。
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	// 还有其他等待者时会返回 ErrNotEmpty，忽略即可
	_ = l.conn.Delete(l.path, -1)
	return nil
}
