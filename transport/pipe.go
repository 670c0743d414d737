package transport

import (
	"context"
	"sync"

	"github.com/hunyxv/svcmux"
	"github.com/hunyxv/utils/spinlock"
	"github.com/pkg/errors"
)

var ErrPipeClosed = errors.New("transport: pipe is closed")

// Pipe 返回一对在内存中相连的 Dialer，一端发送的消息按顺序到达另一端
func Pipe() (svcmux.Dialer, svcmux.Dialer) {
	p := &pipe{done: make(chan struct{})}
	p.ends[0] = &pipeEnd{pipe: p, queue: newQueue()}
	p.ends[1] = &pipeEnd{pipe: p, queue: newQueue()}
	p.ends[0].peer = p.ends[1]
	p.ends[1].peer = p.ends[0]
	return p.ends[0], p.ends[1]
}

type pipe struct {
	ends [2]*pipeEnd
	done chan struct{}
	once sync.Once
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

var (
	_ svcmux.Dialer    = (*pipeEnd)(nil)
	_ svcmux.Transport = (*pipeEnd)(nil)
)

type pipeEnd struct {
	pipe  *pipe
	peer  *pipeEnd
	queue *queue

	mutex  sync.Mutex
	dialed bool
}

func (e *pipeEnd) Dial(ctx context.Context, events svcmux.TransportEvents) (svcmux.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.dialed {
		return nil, errors.New("transport: pipe end already dialed")
	}
	e.dialed = true

	go e.loop(events)
	return e, nil
}

func (e *pipeEnd) loop(events svcmux.TransportEvents) {
	select {
	case <-e.pipe.done:
		events.Closed()
		return
	default:
	}

	events.Opened()
	for {
		select {
		case <-e.pipe.done:
			events.Closed()
			return
		case <-e.queue.signal:
			for _, data := range e.queue.popAll() {
				select {
				case <-e.pipe.done:
					events.Closed()
					return
				default:
				}
				events.Received(data)
			}
		}
	}
}

func (e *pipeEnd) Send(data []byte) error {
	select {
	case <-e.pipe.done:
		return ErrPipeClosed
	default:
	}
	b := make([]byte, len(data))
	copy(b, data)
	e.peer.queue.push(b)
	return nil
}

// Close 关闭整个 pipe，两端都会收到 Closed
func (e *pipeEnd) Close() error {
	e.pipe.close()
	return nil
}

// queue 无界队列，发送方不会因为对端处理慢而阻塞
type queue struct {
	lock   sync.Locker
	items  [][]byte
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		lock:   spinlock.NewSpinLock(),
		signal: make(chan struct{}, 1),
	}
}

func (q *queue) push(b []byte) {
	q.lock.Lock()
	q.items = append(q.items, b)
	q.lock.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) popAll() [][]byte {
	q.lock.Lock()
	items := q.items
	q.items = nil
	q.lock.Unlock()
	return items
}
