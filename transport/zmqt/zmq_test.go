package zmqt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hunyxv/svcmux"
	"github.com/pborman/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peer 监听端：收到 solicit 回 response，其余消息转给测试
type peer struct {
	t    *testing.T
	open chan struct{}
	shut chan struct{}
	msgs chan svcmux.Message

	once  sync.Once
	mutex sync.Mutex
	tr    svcmux.Transport
}

func newPeer(t *testing.T) *peer {
	return &peer{
		t:    t,
		open: make(chan struct{}),
		shut: make(chan struct{}),
		msgs: make(chan svcmux.Message, 16),
	}
}

func (p *peer) Opened()           { close(p.open) }
func (p *peer) Closed()           { p.once.Do(func() { close(p.shut) }) }
func (p *peer) Errored(err error) { p.t.Logf("peer error: %v", err) }

func (p *peer) Received(data []byte) {
	msg, err := svcmux.JSONCodec{}.Unmarshal(data)
	if err != nil {
		p.t.Errorf("peer: %v", err)
		return
	}
	if msg.Kind() == svcmux.KindSolicit {
		p.send(map[string]interface{}{"response": msg.Path(), "id": msg["id"], "echo": msg["value"]})
	}
	p.msgs <- msg
}

func (p *peer) send(v interface{}) {
	data, _ := json.Marshal(v)
	p.mutex.Lock()
	tr := p.tr
	p.mutex.Unlock()
	if err := tr.Send(data); err != nil {
		p.t.Errorf("peer send: %v", err)
	}
}

func (p *peer) next(t *testing.T) svcmux.Message {
	t.Helper()
	select {
	case msg := <-p.msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("peer received nothing")
	}
	return nil
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

func TestZMQ(t *testing.T) {
	endpoint := fmt.Sprintf("inproc://svcmux_%s", uuid.NewRandom().String())

	p := newPeer(t)
	p.mutex.Lock()
	tr, err := NewListener(endpoint, svcmux.NopLogger{}).Dial(context.Background(), p)
	p.tr = tr
	p.mutex.Unlock()
	require.NoError(t, err)
	wait(t, p.open)

	opened := make(chan struct{})
	closed := make(chan struct{})
	hooks := &svcmux.HookFuncs{
		Open:  func() { close(opened) },
		Close: func() { close(closed) },
		Error: func(err error) { t.Logf("service error: %v", err) },
	}
	s := svcmux.New(NewDialer(endpoint, svcmux.NopLogger{}), svcmux.Handlers{
		"svc/hello": svcmux.HandlerFunc(func(msg svcmux.Message, reply svcmux.ReplyFunc) error {
			return reply(svcmux.Message{"reply": "ok", "greeting": "hello " + msg.GetString("name")})
		}),
	}, svcmux.WithHooks(hooks), svcmux.WithLogger(svcmux.NopLogger{}))
	wait(t, opened)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := s.Call(ctx, "svc/echo", svcmux.Payload{"value": "hi"})
	require.NoError(t, err)
	assert.Equal(t, svcmux.Message{"response": "echo", "echo": "hi"}, resp)
	assert.Equal(t, "svc/echo", p.next(t).Path())

	p.send(map[string]interface{}{"request": "svc/hello", "id": "r1", "name": "zmq"})
	assert.Equal(t, svcmux.Message{"reply": "svc/hello/ok", "id": "r1", "greeting": "hello zmq"}, p.next(t))

	require.NoError(t, s.Close())
	wait(t, closed)
	assert.Equal(t, svcmux.StateClosed, s.State())

	require.NoError(t, tr.Close())
	wait(t, p.shut)
	assert.ErrorIs(t, tr.Send([]byte("{}")), ErrClosed)
}

func TestZMQBadEndpoint(t *testing.T) {
	_, err := NewDialer("nope://x", svcmux.NopLogger{}).Dial(context.Background(), newPeer(t))
	assert.Error(t, err)
}
