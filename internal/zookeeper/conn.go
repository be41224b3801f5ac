// internal/zookeeper/conn.go
package zookeeper

import (
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

// Conn 封装了 ZooKeeper 连接，只暴露锁实现需要的操作
type Conn struct {
	conn *zk.Conn
}

// NewConn 建立到 ZooKeeper 集群的连接
func NewConn(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if sessionTimeout <= 0 {
		sessionTimeout = 10 * time.Second
	}
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "connect to zookeeper")
	}
	return &Conn{conn: conn}, nil
}

// Close 关闭连接，持有的临时节点随会话一起消失
func (c *Conn) Close() {
	c.conn.Close()
}

func (c *Conn) Exists(path string) (bool, *zk.Stat, error) {
	return c.conn.Exists(path)
}

func (c *Conn) ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error) {
	return c.conn.ExistsW(path)
}

func (c *Conn) Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error) {
	return c.conn.Create(path, data, flags, acl)
}

func (c *Conn) CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error) {
	return c.conn.CreateProtectedEphemeralSequential(path, data, acl)
}

func (c *Conn) Children(path string) ([]string, *zk.Stat, error) {
	return c.conn.Children(path)
}

func (c *Conn) Delete(path string, version int32) error {
	return c.conn.Delete(path, version)
}
