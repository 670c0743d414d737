// Package registry 把提供 svcmux 服务的节点注册到 etcd 或 consul，
// 并让调用方按服务名找到节点的 websocket 地址
package registry

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hunyxv/svcmux"
	"github.com/pkg/errors"
)

// 注册时使用 json 序列化，以便查看

var ErrNoNode = errors.New("registry: no node available")

// Node 节点信息
type Node struct {
	ServiceName string `json:"service_name"`
	NodeID      string `json:"nodeid"`
	Endpoint    string `json:"endpoint"` // websocket 地址
}

func (n Node) metadata() map[string]string {
	return map[string]string{
		"service_name": n.ServiceName,
		"nodeid":       n.NodeID,
		"endpoint":     n.Endpoint,
	}
}

func nodeFromMetadata(meta map[string]string) (Node, bool) {
	n := Node{
		ServiceName: meta["service_name"],
		NodeID:      meta["nodeid"],
		Endpoint:    meta["endpoint"],
	}
	return n, n.NodeID != "" && n.Endpoint != ""
}

// Config 注册与发现所需配置
type Config struct {
	Registries      []string      // 注册中心 endpoint
	ServicePrefix   string        // 服务前缀
	HeartBeatPeriod time.Duration // 心跳间隔
	Node            Node          // 注册时为本节点，发现时只用 ServiceName
	Logger          svcmux.Logger
}

func (c *Config) init() {
	if c.ServicePrefix == "" {
		c.ServicePrefix = "svcmux"
	}
	if c.HeartBeatPeriod <= 0 {
		c.HeartBeatPeriod = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = svcmux.DefaultLogger()
	}
}

func (c *Config) key() string {
	return strings.Join([]string{c.ServicePrefix, c.Node.ServiceName, c.Node.NodeID}, "/")
}

func (c *Config) prefix() string {
	return strings.Join([]string{c.ServicePrefix, c.Node.ServiceName}, "/") + "/"
}

// Register 服务注册
type Register interface {
	// Register 注册节点并保持心跳，直到 ctx 结束或 Deregister
	Register(ctx context.Context)
	// Deregister 注销节点
	Deregister()
}

// Resolver 服务发现
type Resolver interface {
	// Watch 监控节点变化，阻塞到 Stop
	Watch(callback WatchCallback)
	// Stop 停止监控
	Stop()
}

// WatchCallback 节点变更事件回调接口
type WatchCallback interface {
	AddOrUpdate(node Node) error
	Delete(nodeID string)
}

var _ WatchCallback = (*Directory)(nil)

// Directory 保存发现的节点
type Directory struct {
	mutex   sync.RWMutex
	nodes   map[string]Node
	changed chan struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		nodes:   make(map[string]Node),
		changed: make(chan struct{}),
	}
}

func (d *Directory) AddOrUpdate(node Node) error {
	if node.NodeID == "" || node.Endpoint == "" {
		return errors.Errorf("registry: incomplete node %+v", node)
	}
	d.mutex.Lock()
	d.nodes[node.NodeID] = node
	close(d.changed)
	d.changed = make(chan struct{})
	d.mutex.Unlock()
	return nil
}

func (d *Directory) Delete(nodeID string) {
	d.mutex.Lock()
	delete(d.nodes, nodeID)
	d.mutex.Unlock()
}

// Nodes 按 NodeID 排序
func (d *Directory) Nodes() []Node {
	d.mutex.RLock()
	nodes := make([]Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		nodes = append(nodes, n)
	}
	d.mutex.RUnlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return nodes
}

// Pick 随机选一个节点
func (d *Directory) Pick() (Node, error) {
	nodes := d.Nodes()
	if len(nodes) == 0 {
		return Node{}, ErrNoNode
	}
	return nodes[rand.Intn(len(nodes))], nil
}

// Wait 等到至少有一个节点，再 Pick
func (d *Directory) Wait(ctx context.Context) (Node, error) {
	for {
		d.mutex.RLock()
		changed := d.changed
		d.mutex.RUnlock()
		if n, err := d.Pick(); err == nil {
			return n, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return Node{}, errors.Wrap(ErrNoNode, ctx.Err().Error())
		}
	}
}

func splitKey(key string) (string, string) {
	l := strings.Split(key, "/")
	if len(l) > 2 {
		return l[len(l)-2], l[len(l)-1]
	}
	return "", ""
}
