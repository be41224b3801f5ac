// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const (
	lockRoot = "/stock_locks" // 所有库存锁的根节点
)

// ErrWaitTimeout 表示在等待超时内没有轮到自己的节点
var ErrWaitTimeout = errors.New("timeout waiting for lock")

// DistributedLock 是基于临时顺序节点的互斥锁。
// 同一资源的竞争者在 /stock_locks/<resource> 下排队，最小节点持锁，
// 其余只监听自己的前驱，避免惊群。
type DistributedLock struct {
	conn     *Conn
	path     string // 锁的父路径，例如 /stock_locks/stock-variant-42
	lockNode string // 成功排队后自己创建的节点路径
	waitFor  time.Duration
}

// NewDistributedLock 创建锁实例并确保父路径存在。
// 父节点是持久节点，通常由初始化脚本创建，这里兜底。
func NewDistributedLock(conn *Conn, resourceID string, waitFor time.Duration) (*DistributedLock, error) {
	if waitFor <= 0 {
		waitFor = 30 * time.Second
	}
	if err := ensureNode(conn, lockRoot); err != nil {
		return nil, err
	}
	lockPath := lockRoot + "/" + resourceID
	if err := ensureNode(conn, lockPath); err != nil {
		return nil, err
	}
	return &DistributedLock{conn: conn, path: lockPath, waitFor: waitFor}, nil
}

func ensureNode(conn *Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return fmt.Errorf("check node %s: %w", path, err)
	}
	if exists {
		return nil
	}
	if _, err := conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("create node %s: %w", path, err)
	}
	return nil
}

// parseSeq 取出排队节点名末尾的顺序号。
// CreateProtectedEphemeralSequential 生成的名字形如 _c_<GUID>-lock-0000000001，
// 字符串排序会被随机 GUID 主导，队列顺序必须按顺序号比较。
func parseSeq(name string) (int, error) {
	idx := strings.LastIndex(name, "-")
	if idx < 0 {
		return 0, fmt.Errorf("node %q has no sequence suffix", name)
	}
	seq, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("node %q has malformed sequence suffix", name)
	}
	return seq, nil
}

// queuePosition 按顺序号确定自己的排队位置：
// 自己是最小顺序号时返回空串表示持锁，否则返回顺序号紧邻自己之前的节点名。
func queuePosition(children []string, mySeq int) (prevName string, err error) {
	seen := false
	prevSeq := -1
	for _, child := range children {
		seq, perr := parseSeq(child)
		if perr != nil {
			// 父路径下混入的非排队节点不参与竞争
			continue
		}
		if seq == mySeq {
			seen = true
			continue
		}
		if seq < mySeq && seq > prevSeq {
			prevSeq = seq
			prevName = child
		}
	}
	if !seen {
		return "", errors.New("cannot find own node in queue")
	}
	return prevName, nil
}

// Lock 排队获取锁，等待超时或 ctx 结束时放弃并清理自己的节点
func (l *DistributedLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	mySeq, err := parseSeq(strings.TrimPrefix(nodePath, l.path+"/"))
	if err != nil {
		l.abandon()
		return err
	}

	deadline := time.Now().Add(l.waitFor)
	for {
		// 2. 取全部排队节点，按顺序号找自己的位置
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		prevName, err := queuePosition(children, mySeq)
		if err != nil {
			l.abandon()
			return err
		}

		// 3. 没有更小的顺序号即持锁
		if prevName == "" {
			return nil
		}

		// 4. 否则只监听自己的前驱
		prevNodePath := l.path + "/" + prevName

		_, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			// 前驱在检查瞬间刚好被删除，重新竞争
			if err == zk.ErrNoNode {
				continue
			}
			l.abandon()
			return fmt.Errorf("failed to watch previous node: %w", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.abandon()
			return ErrWaitTimeout
		}
		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(remaining):
			l.abandon()
			return ErrWaitTimeout
		case <-ctx.Done():
			l.abandon()
			return ctx.Err()
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

// abandon 放弃排队，删除自己的节点让后继者继续
func (l *DistributedLock) abandon() {
	if l.lockNode == "" {
		return
	}
	_ = l.conn.Delete(l.lockNode, -1)
	l.lockNode = ""
}
