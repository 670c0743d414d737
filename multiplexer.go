package svcmux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

// maxIDAttempts 生成器给出正在使用的 id 时最多重试次数
const maxIDAttempts = 8

// State 连接状态
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (st State) String() string {
	switch st {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int32(st))
}

// Service 在一个 transport 上复用 notify、solicit/response、request|consume/reply
type Service struct {
	logger   Logger
	hooks    Hooks
	observer MessageObserver
	codec    Codec
	ids      IDGenerator
	handlers *handlerRegistry
	table    *correlationTable
	dialer   Dialer
	metrics  *metrics
	tracing  *tracing
	pool     *ants.Pool
	opts     *options

	state      int32
	dialed     bool
	transport  Transport
	done       chan struct{}
	closeOnce  sync.Once
	mutex      sync.Mutex
	dispatchMu sync.Mutex
}

// New 创建 Service 并（除非设置了 WithManualOpen）立即 Open
//  New 不返回错误：无法创建 transport 时会异步调用 OnError
func New(dialer Dialer, handlers Handlers, opts ...Option) *Service {
	defOpts := &options{
		Codec:       JSONCodec{},
		IDGenerator: &CounterIDGenerator{},
	}
	for _, f := range opts {
		f(defOpts)
	}
	if defOpts.Logger == nil {
		defOpts.Logger = DefaultLogger()
	}
	if defOpts.Hooks == nil {
		defOpts.Hooks = logHooks{logger: defOpts.Logger}
	}
	if defOpts.WorkPool == nil {
		defOpts.WorkPool = defaultPool()
	}

	s := &Service{
		logger:   defOpts.Logger,
		hooks:    defOpts.Hooks,
		codec:    defOpts.Codec,
		ids:      defOpts.IDGenerator,
		handlers: newHandlerRegistry(handlers, defOpts.Middlewares...),
		table:    newCorrelationTable(),
		dialer:   dialer,
		tracing:  newTracing(defOpts.TracerProvider),
		pool:     defOpts.WorkPool,
		opts:     defOpts,
		state:    int32(StateConnecting),
		done:     make(chan struct{}),
	}
	if observer, ok := defOpts.Hooks.(MessageObserver); ok {
		s.observer = observer
	}
	if defOpts.Registerer != nil {
		m, err := newMetrics(defOpts.Registerer)
		if err != nil {
			s.logger.Warnf("Service|newMetrics|Fail|%v", err)
		} else {
			s.metrics = m
		}
	}

	if !defOpts.ManualOpen {
		s.Open()
	}
	return s
}

// State 当前连接状态
func (s *Service) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// Pending 等待应答的 solicit 数量
func (s *Service) Pending() int {
	return s.table.len()
}

// Paths 已注册 handler 的路径
func (s *Service) Paths() []string {
	return s.handlers.paths()
}

// Done 连接关闭后 close
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Open 建立 transport，只有第一次调用有效
func (s *Service) Open() {
	s.mutex.Lock()
	if s.dialed || s.State() == StateClosed {
		s.mutex.Unlock()
		return
	}
	s.dialed = true
	s.mutex.Unlock()

	if s.dialer == nil {
		s.constructionFailed(errors.New("no dialer"))
		return
	}

	events := &transportEvents{s: s}
	// Dial 期间触发的事件在 transport 就绪后按顺序补发
	defer events.flush()

	t, err := s.dialer.Dial(context.Background(), events)
	if err != nil {
		events.discard()
		s.constructionFailed(err)
		return
	}

	s.mutex.Lock()
	if s.State() == StateClosed { // 建立过程中被 Close
		s.mutex.Unlock()
		t.Close()
		return
	}
	s.transport = t
	s.mutex.Unlock()
}

// constructionFailed 延迟到下一轮调度再上报，调用方在 Open 之后设置的回调也能收到
func (s *Service) constructionFailed(err error) {
	s.logger.Errorf("Service|Dial|Fail|%v", err)
	e := &Error{Kind: ErrTransportConstruction, Err: errors.Wrap(err, "dial")}
	s.submit(func() {
		s.dispatchMu.Lock()
		defer s.dispatchMu.Unlock()
		s.reportError(e)
	})
}

// Close 关闭 transport，OnClose 在 transport 关闭后调用；
// 没有 transport 时直接（同步）调用 OnClose
func (s *Service) Close() error {
	s.mutex.Lock()
	t := s.transport
	if t == nil {
		s.dialed = true // 之后的 Open 不再生效
	}
	s.mutex.Unlock()

	if t != nil {
		return t.Close()
	}
	s.handleClosed()
	return nil
}

// Notify 发送通知，不需要应答
func (s *Service) Notify(path string, payload Payload) error {
	if err := s.checkState(); err != nil {
		return err
	}
	msg, err := newMessage(KindNotify, path, payload, s.traced())
	if err != nil {
		return err
	}
	return s.send(msg)
}

// Solicit 发送请求，收到对应 response 时调用 cont（最多一次）
//  返回该请求的关联 id
func (s *Service) Solicit(path string, payload Payload, cont Continuation) (string, error) {
	return s.solicit(path, payload, cont, nil)
}

// Call 发送请求并等待应答，ctx 结束时放弃等待
func (s *Service) Call(ctx context.Context, path string, payload Payload) (Message, error) {
	respCh := make(chan Message, 1)
	errCh := make(chan error, 1)
	id, err := s.solicit(path, payload,
		func(msg Message) { respCh <- msg },
		func(err error) { errCh <- err })
	if err != nil {
		return nil, err
	}

	select {
	case msg := <-respCh:
		return msg, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		s.forget(id, ctx.Err())
		return nil, ctx.Err()
	}
}

func (s *Service) solicit(path string, payload Payload, cont Continuation, abort func(error)) (string, error) {
	if err := s.checkState(); err != nil {
		return "", err
	}
	msg, err := newMessage(KindSolicit, path, payload, s.traced())
	if err != nil {
		return "", err
	}

	span := s.tracing.startSolicit(path, msg)
	var p *pending
	for i := 0; i < maxIDAttempts; i++ {
		candidate := &pending{
			id:    s.ids.NextID(),
			path:  path,
			cont:  cont,
			abort: abort,
			span:  span,
		}
		if s.table.insert(candidate, s.opts.SolicitTimeout, s.expire) {
			p = candidate
			break
		}
		s.logger.Warnf("Service|Solicit|id %s already pending", candidate.id)
	}
	if p == nil {
		span.end(ErrIDCollision)
		return "", ErrIDCollision
	}
	s.metrics.addPending(1)
	span.setID(p.id)

	msg[MESSAGEID] = p.id
	if err := s.send(msg); err != nil {
		s.forget(p.id, err)
		return "", err
	}
	return p.id, nil
}

// forget 放弃等待，不调用 continuation
func (s *Service) forget(id string, cause error) {
	if p, ok := s.table.take(id); ok {
		s.metrics.addPending(-1)
		p.span.end(cause)
	}
}

func (s *Service) expire(id string) {
	p, ok := s.table.take(id)
	if !ok {
		return
	}
	s.metrics.addPending(-1)
	err := &Error{
		Kind: ErrSolicitExpired,
		Path: p.path,
		Err:  errors.Errorf("no response for id %s within %s", id, s.opts.SolicitTimeout),
	}
	p.span.end(err)
	if p.abort != nil {
		p.abort(err)
	}
	// 与 dispatch 串行，OnError 不会与 handler 中触发的回调同时执行
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.reportError(err)
}

func (s *Service) checkState() error {
	switch s.State() {
	case StateClosed:
		return ErrClosed
	case StateConnecting:
		return ErrNotOpen
	}
	return nil
}

func (s *Service) send(msg Message) error {
	if err := s.checkState(); err != nil {
		return err
	}
	s.mutex.Lock()
	t := s.transport
	s.mutex.Unlock()
	if t == nil {
		return ErrNotOpen
	}

	data, err := s.codec.Marshal(msg)
	if err != nil {
		return err
	}
	if err := t.Send(data); err != nil {
		return errors.Wrap(err, "transport send")
	}
	s.metrics.sent(msg.Kind())
	return nil
}

func (s *Service) submit(f func()) {
	if s.pool == nil || s.pool.Submit(f) != nil {
		go f()
	}
}

func (s *Service) reportError(err error) {
	var e *Error
	if errors.As(err, &e) {
		s.metrics.failed(e.Kind)
	}
	s.logger.Debugf("Service|OnError|%v", err)
	s.hooks.OnError(err)
}

func (s *Service) handleOpened() {
	if atomic.CompareAndSwapInt32(&s.state, int32(StateConnecting), int32(StateOpen)) {
		s.hooks.OnOpen()
	}
}

func (s *Service) handleClosed() {
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.state, int32(StateClosed))
		close(s.done)
		// 关闭后不会再收到 response，丢弃所有等待中的 solicit
		for _, p := range s.table.drain() {
			s.metrics.addPending(-1)
			p.span.end(ErrClosed)
			if p.abort != nil {
				p.abort(ErrClosed)
			}
		}
		s.hooks.OnClose()
	})
}

func (s *Service) handleErrored(err error) {
	if s.State() == StateClosed {
		return
	}
	s.reportError(&Error{Kind: ErrTransportRuntime, Err: err})
}

func (s *Service) handleReceived(data []byte) {
	if s.State() == StateClosed {
		return
	}
	s.dispatch(data)
}

// transportEvents transport 事件转交给 Service；
// Dial 返回前到达的事件（比如已经建立好的连接在 Dial 中直接 Opened）先排队，不阻塞 transport
type transportEvents struct {
	s *Service

	mutex  sync.Mutex
	ready  bool
	queued []func()
}

var _ TransportEvents = (*transportEvents)(nil)

func (e *transportEvents) do(f func()) {
	e.mutex.Lock()
	if !e.ready {
		e.queued = append(e.queued, f)
		e.mutex.Unlock()
		return
	}
	e.mutex.Unlock()
	f()
}

// flush 补发排队的事件，flush 期间新到达的事件排在后面
func (e *transportEvents) flush() {
	for {
		e.mutex.Lock()
		queued := e.queued
		e.queued = nil
		if len(queued) == 0 {
			e.ready = true
			e.mutex.Unlock()
			return
		}
		e.mutex.Unlock()
		for _, f := range queued {
			f()
		}
	}
}

// discard 创建失败时丢弃 Dial 期间的事件
func (e *transportEvents) discard() {
	e.mutex.Lock()
	e.queued = nil
	e.mutex.Unlock()
}

func (e *transportEvents) Opened() {
	e.do(e.s.handleOpened)
}

func (e *transportEvents) Closed() {
	e.do(e.s.handleClosed)
}

func (e *transportEvents) Errored(err error) {
	e.do(func() { e.s.handleErrored(err) })
}

func (e *transportEvents) Received(data []byte) {
	e.do(func() { e.s.handleReceived(data) })
}
