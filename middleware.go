package svcmux

import "time"

// Middleware 包装 Handler，在 handler 执行前后做额外的事
type Middleware func(next Handler) Handler

// Chain 组合 middleware，第一个在最外层
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// BeforeServe handler 执行前调用 f
func BeforeServe(f func(msg Message)) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(msg Message, reply ReplyFunc) error {
			f(msg)
			return next.Serve(msg, reply)
		})
	}
}

// AfterServe handler 返回后调用 f，err 为 handler 的返回值
//  handler panic 时不会调用
func AfterServe(f func(msg Message, err error)) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(msg Message, reply ReplyFunc) error {
			err := next.Serve(msg, reply)
			f(msg, err)
			return err
		})
	}
}

// LogServe 记录每个 request/consume 的路径和耗时
func LogServe(logger Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(msg Message, reply ReplyFunc) error {
			start := time.Now()
			err := next.Serve(msg, reply)
			if err != nil {
				logger.Warnf("Handler|%s|%s|Fail|%v", msg.Kind(), msg.Path(), err)
			} else {
				logger.Debugf("Handler|%s|%s|%s", msg.Kind(), msg.Path(), time.Since(start))
			}
			return err
		})
	}
}
