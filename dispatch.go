package svcmux

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

// dispatch 解码并分发一条收到的消息，同一时刻只有一条消息在分发
func (s *Service) dispatch(data []byte) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	msg, err := s.codec.Unmarshal(data)
	if err != nil {
		s.reportError(&Error{Kind: ErrMalformedMessage, Err: err})
		return
	}

	kind := msg.Kind()
	s.metrics.received(kind)
	if s.observer != nil {
		s.observer.OnMessage(msg.Clone())
	}

	switch kind {
	case KindResponse:
		s.dispatchResponse(msg)
	case KindRequest, KindConsume:
		s.dispatchRequest(kind, msg)
	default:
		s.reportError(&Error{
			Kind:    ErrUnexpectedMessage,
			Path:    msg.Path(),
			Message: msg,
			Err:     errors.Errorf("cannot dispatch %s message", kind),
		})
	}
}

// dispatchResponse 找到对应的 solicit，去掉 id 后调用 continuation；
// 找不到（重复或过期的 response）直接丢弃
func (s *Service) dispatchResponse(msg Message) {
	id := msg.ID()
	p, ok := s.table.take(id)
	if !ok {
		s.logger.Debugf("Service|dispatchResponse|no pending solicit for id %q", id)
		return
	}
	s.metrics.addPending(-1)
	p.span.end(nil)

	path := msg.GetString(RESPONSE)
	msg[RESPONSE] = lastSegment(path)
	msg.Del(MESSAGEID)
	if s.traced() {
		msg.Del(TRACEFIELD)
	}

	if p.cont == nil {
		return
	}
	if err := s.call(func() error { p.cont(msg); return nil }); err != nil {
		s.reportError(&Error{Kind: ErrHandlerDispatch, Path: path, Message: msg, Err: err})
	}
}

// dispatchRequest 调用 request/consume 路径上注册的 handler
func (s *Service) dispatchRequest(kind Kind, msg Message) {
	path := msg.GetString(kind.Field())
	id := msg.Pop(MESSAGEID)
	var span trace.Span
	if s.traced() {
		span = s.tracing.startHandler(kind, path, msg.Pop(TRACEFIELD))
	}

	handler, ok := s.handlers.lookup(path)
	if !ok {
		err := &Error{Kind: ErrMissingHandler, Path: path, Message: msg, Err: ErrNoHandler}
		endSpan(span, err)
		s.reportError(err)
		return
	}

	reply := s.newReply(path, id)
	err := s.call(func() error { return handler.Serve(msg, reply) })
	endSpan(span, err)
	if err != nil {
		s.logger.Warnf("Service|Serve|%s|Fail|%v", path, err)
		s.reportError(&Error{Kind: ErrHandlerDispatch, Path: path, Message: msg, Err: err})
	}
}

// newReply 构造一次性的回复函数：补回 id，reply 只给出叶子名时补全路径
func (s *Service) newReply(path string, id interface{}) ReplyFunc {
	var replied int32
	return func(msg Message) error {
		leaf := msg.GetString(REPLY)
		if leaf == "" {
			return ErrNoReplyPath
		}
		if !atomic.CompareAndSwapInt32(&replied, 0, 1) {
			return ErrAlreadyReplied
		}

		out := msg.Clone()
		// handler 可能直接复用收到的消息，去掉其他类型字段以免对端误判
		for _, kf := range kindFields {
			if kf.kind != KindReply {
				out.Del(kf.field)
			}
		}
		if s.traced() {
			out.Del(TRACEFIELD)
		}
		out[MESSAGEID] = id
		out[REPLY] = replyPath(path, leaf)
		return s.send(out)
	}
}

// traced 开启链路追踪时 trace 字段属于协议，否则只是普通的 payload 字段
func (s *Service) traced() bool {
	return s.tracing != nil
}

// call 执行用户回调，panic 转为 error
func (s *Service) call(f func() error) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.WithStack(fmt.Errorf("%+v", e))
			s.logger.Errorf("[panic]: err: %+v", err)
		}
	}()
	return f()
}
