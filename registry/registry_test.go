package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	_, err := d.Pick()
	assert.ErrorIs(t, err, ErrNoNode)

	assert.Error(t, d.AddOrUpdate(Node{NodeID: "n1"}))
	require.NoError(t, d.AddOrUpdate(Node{ServiceName: "echo", NodeID: "n2", Endpoint: "ws://b"}))
	require.NoError(t, d.AddOrUpdate(Node{ServiceName: "echo", NodeID: "n1", Endpoint: "ws://a"}))
	require.NoError(t, d.AddOrUpdate(Node{ServiceName: "echo", NodeID: "n1", Endpoint: "ws://a2"}))

	nodes := d.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "ws://a2", nodes[0].Endpoint)
	assert.Equal(t, "n2", nodes[1].NodeID)

	d.Delete("n1")
	n, err := d.Pick()
	require.NoError(t, err)
	assert.Equal(t, "n2", n.NodeID)
}

func TestDirectoryWait(t *testing.T) {
	d := NewDirectory()
	go func() {
		time.Sleep(20 * time.Millisecond)
		d.AddOrUpdate(Node{NodeID: "n1", Endpoint: "ws://a"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := d.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ws://a", n.Endpoint)

	empty := NewDirectory()
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = empty.Wait(ctx)
	assert.ErrorIs(t, err, ErrNoNode)
}

func TestConfigKeys(t *testing.T) {
	cnf := &Config{Node: Node{ServiceName: "echo", NodeID: "n1"}}
	cnf.init()
	assert.Equal(t, "svcmux/echo/n1", cnf.key())
	assert.Equal(t, "svcmux/echo/", cnf.prefix())
	assert.Equal(t, 5*time.Second, cnf.HeartBeatPeriod)

	service, node := splitKey(cnf.key())
	assert.Equal(t, "echo", service)
	assert.Equal(t, "n1", node)
	service, node = splitKey("bad")
	assert.Empty(t, service)
	assert.Empty(t, node)
}

func TestNodeMetadata(t *testing.T) {
	n := Node{ServiceName: "echo", NodeID: "n1", Endpoint: "ws://a"}
	got, ok := nodeFromMetadata(n.metadata())
	assert.True(t, ok)
	assert.Equal(t, n, got)

	_, ok = nodeFromMetadata(map[string]string{"nodeid": "n1"})
	assert.False(t, ok)
}

func TestConsulRegistration(t *testing.T) {
	r, err := NewConsulRegister(&Config{
		Registries:      []string{"127.0.0.1:8500"},
		HeartBeatPeriod: time.Second,
		Node:            Node{ServiceName: "echo", NodeID: "n1", Endpoint: "ws://a"},
	})
	require.NoError(t, err)

	reg := r.(*consulRegister).registration()
	assert.Equal(t, "n1", reg.ID)
	assert.Equal(t, []string{consulTag}, reg.Tags)
	assert.Equal(t, "ws://a", reg.Meta["endpoint"])
	assert.Equal(t, "3s", reg.Check.TTL)
	assert.Equal(t, "svcmux:n1", reg.Check.CheckID)
}
