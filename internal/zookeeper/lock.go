// internal/zookeeper/lock.go
package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"

	"swapflow/internal/pkg/logger"
)

const (
	lockRoot  = "/distributed_locks" // 所有分布式锁的根节点
	lockAlias = "lock-"
)

var ErrLockTimeout = errors.New("timeout waiting for lock")

// Connect 建立 ZooKeeper 会话, 并等待首次连上
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("connect zookeeper: %w", err)
	}
	deadline := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				logger.L().Info().Strs("servers", servers).Msg("✅ Connected to ZooKeeper.")
				return conn, nil
			}
		case <-deadline:
			conn.Close()
			return nil, fmt.Errorf("connect zookeeper: no session within %s", sessionTimeout)
		}
	}
}

// DistributedLock 定义了一个分布式锁对象
type DistributedLock struct {
	conn    *zk.Conn
	path    string        // 锁的路径，例如 /distributed_locks/stale-order-sweeper
	timeout time.Duration // 等待前序节点释放的最长时间

	mu       sync.Mutex
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建一个新的分布式锁实例, 并确保锁路径存在
func NewDistributedLock(conn *zk.Conn, resourceID string, timeout time.Duration) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if err := ensureNode(conn, p); err != nil {
			return nil, err
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DistributedLock{conn: conn, path: lockPath, timeout: timeout}, nil
}

func ensureNode(conn *zk.Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return fmt.Errorf("check lock node %s: %w", path, err)
	}
	if exists {
		return nil
	}
	_, err = conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create lock node %s: %w", path, err)
	}
	return nil
}

// Lock 尝试获取锁，如果获取不到则阻塞等待
func (l *DistributedLock) Lock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/"+lockAlias, []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	myNodeName := strings.TrimPrefix(nodePath, l.path+"/")

	for {
		// 2. 获取锁路径下的所有子节点，按顺序号排序
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.release(nodePath)
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		sortBySequence(children)

		// 3. 判断自己是否是最小的节点
		idx := indexOf(children, myNodeName)
		if idx < 0 {
			return errors.New("own lock node disappeared, session may have expired")
		}
		if idx == 0 {
			l.lockNode = nodePath
			return nil
		}

		// 4. 不是最小节点，监听前一个节点
		exists, _, eventChan, err := l.conn.ExistsW(l.path + "/" + children[idx-1])
		if err != nil {
			l.release(nodePath)
			return fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
		case <-time.After(l.timeout):
			l.release(nodePath)
			return ErrLockTimeout
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	if err := l.release(l.lockNode); err != nil {
		return err
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) release(node string) error {
	err := l.conn.Delete(node, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	return nil
}

// sortBySequence 按 ZooKeeper 追加的 10 位顺序号排序。
// protected 节点带有 "_c_<guid>-" 前缀, 直接按字符串排序会打乱先后。
func sortBySequence(children []string) {
	sort.Slice(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})
}

func sequenceOf(node string) string {
	if len(node) < 10 {
		return node
	}
	return node[len(node)-10:]
}

func indexOf(children []string, name string) int {
	for i, c := range children {
		if c == name {
			return i
		}
	}
	return -1
}
