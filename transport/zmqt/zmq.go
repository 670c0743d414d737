// Package zmqt 基于 ZeroMQ DEALER socket 的 svcmux.Dialer，依赖 libzmq（cgo）
package zmqt

import (
	"context"
	"fmt"
	"sync"

	"github.com/hunyxv/svcmux"
	"github.com/pborman/uuid"
	zmq "github.com/pebbe/zmq4"
	"github.com/pkg/errors"
)

var ErrClosed = errors.New("zmqt: socket is closed")

type zmqMode int

const (
	zmqConnect zmqMode = iota + 1 // 连接到对端
	zmqBind                       // 监听，等待对端连接
)

const _CLOSE = "close"

// NewDialer DEALER socket 连接到 endpoint（比如 tcp://127.0.0.1:10080）
func NewDialer(endpoint string, logger svcmux.Logger) svcmux.Dialer {
	return &zmqDialer{endpoint: endpoint, mode: zmqConnect, logger: logger}
}

// NewListener DEALER socket 绑定 endpoint，只服务一个对端
func NewListener(endpoint string, logger svcmux.Logger) svcmux.Dialer {
	return &zmqDialer{endpoint: endpoint, mode: zmqBind, logger: logger}
}

type zmqDialer struct {
	endpoint string
	mode     zmqMode
	logger   svcmux.Logger
}

// Dial 创建 socket；endpoint 不合法时同步返回错误
func (d *zmqDialer) Dial(ctx context.Context, events svcmux.TransportEvents) (svcmux.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := d.logger
	if logger == nil {
		logger = svcmux.DefaultLogger()
	}

	soc, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, err
	}
	id := uuid.NewRandom().String()
	soc.SetIdentity(id)
	soc.SetLinger(0)
	if d.mode == zmqBind {
		err = soc.Bind(d.endpoint)
	} else {
		err = soc.Connect(d.endpoint)
	}
	if err != nil {
		soc.Close()
		return nil, errors.Wrapf(err, "zmq endpoint %s", d.endpoint)
	}

	// 用于接收 send 消息
	localPush, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		soc.Close()
		return nil, err
	}
	if err := localPush.Bind(fmt.Sprintf("inproc://local_pull_%s", id)); err != nil {
		soc.Close()
		localPush.Close()
		return nil, err
	}
	// pipe 用于发送指令
	pipe, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		soc.Close()
		localPush.Close()
		return nil, err
	}
	if err := pipe.Bind(fmt.Sprintf("inproc://local_pipe_%s", id)); err != nil {
		soc.Close()
		localPush.Close()
		pipe.Close()
		return nil, err
	}

	s := &zmqSocket{
		id:          id,
		endpoint:    d.endpoint,
		socket:      soc,
		events:      events,
		logger:      logger,
		sendChan:    make(chan []byte, 64),
		commandChan: make(chan string),
		done:        make(chan struct{}),
	}
	go s.mainLoop()
	go s.sendLoop(localPush, pipe)
	return s, nil
}

var _ svcmux.Transport = (*zmqSocket)(nil)

// zmqSocket socket 只在 mainLoop 中使用；
// Send/Close 经由 sendLoop 通过 inproc 转交给 mainLoop
type zmqSocket struct {
	id          string
	endpoint    string
	socket      *zmq.Socket
	events      svcmux.TransportEvents
	logger      svcmux.Logger
	sendChan    chan []byte
	commandChan chan string
	done        chan struct{}

	lock    sync.Mutex
	isClose bool
}

func (s *zmqSocket) mainLoop() {
	defer close(s.done)
	defer s.events.Closed()

	localPull, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		s.events.Errored(err)
		s.socket.Close()
		return
	}
	defer localPull.Close()
	if err := localPull.Connect(fmt.Sprintf("inproc://local_pull_%s", s.id)); err != nil {
		s.events.Errored(err)
		s.socket.Close()
		return
	}

	pipe, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		s.events.Errored(err)
		s.socket.Close()
		return
	}
	defer pipe.Close()
	if err := pipe.Connect(fmt.Sprintf("inproc://local_pipe_%s", s.id)); err != nil {
		s.events.Errored(err)
		s.socket.Close()
		return
	}

	s.events.Opened()

	poller := zmq.NewPoller()
	poller.Add(s.socket, zmq.POLLIN)
	poller.Add(localPull, zmq.POLLIN)
	poller.Add(pipe, zmq.POLLIN)
	for {
		polls, err := poller.Poll(-1)
		if err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				s.socket.Close()
				return
			}
			s.events.Errored(err)
			continue
		}

		for _, p := range polls {
			switch soc := p.Socket; soc {
			case pipe:
				cmd, err := pipe.RecvMessage(0)
				if err != nil {
					s.events.Errored(err)
					s.socket.Close()
					return
				}
				if len(cmd) > 0 && cmd[0] == _CLOSE {
					s.socket.Close()
					s.logger.Debugf("zmq: %s closed", s.endpoint)
					return
				}
			case localPull:
				msg, err := localPull.RecvBytes(0)
				if err != nil {
					s.events.Errored(err)
					continue
				}
				if _, err := s.socket.SendBytes(msg, 0); err != nil {
					s.events.Errored(err)
				}
			case s.socket:
				msg, err := s.socket.RecvBytes(0)
				if err != nil {
					s.events.Errored(err)
					continue
				}
				s.events.Received(msg)
			}
		}
	}
}

func (s *zmqSocket) sendLoop(localPush, pipe *zmq.Socket) {
	defer localPush.Close()
	defer pipe.Close()

	for {
		select {
		case cmd := <-s.commandChan:
			if _, err := pipe.SendMessage(cmd); err != nil {
				s.events.Errored(err)
			}
			if cmd == _CLOSE {
				<-s.done
				return
			}
		case msg := <-s.sendChan:
			if _, err := localPush.SendBytes(msg, 0); err != nil {
				s.events.Errored(err)
			}
		case <-s.done:
			return
		}
	}
}

func (s *zmqSocket) Send(data []byte) error {
	s.lock.Lock()
	closed := s.isClose
	s.lock.Unlock()
	if closed {
		return ErrClosed
	}

	b := make([]byte, len(data))
	copy(b, data)
	select {
	case s.sendChan <- b:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Close 关闭 socket，mainLoop 退出后触发 Closed
func (s *zmqSocket) Close() error {
	s.lock.Lock()
	if s.isClose {
		s.lock.Unlock()
		return nil
	}
	s.isClose = true
	s.lock.Unlock()

	select {
	case s.commandChan <- _CLOSE:
	case <-s.done:
	}
	return nil
}
