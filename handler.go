package svcmux

// ReplyFunc 回复对端的 request/consume，只能调用一次
//  msg 必须带有 reply 字段；只给出叶子名时会补全为 "{path}/{leaf}"
type ReplyFunc func(msg Message) error

// Handler 处理对端发来的 request/consume
//  msg 中已去掉 id；返回的 error 会通过 OnError 上报
type Handler interface {
	Serve(msg Message, reply ReplyFunc) error
}

// HandlerFunc 函数适配 Handler
type HandlerFunc func(msg Message, reply ReplyFunc) error

func (f HandlerFunc) Serve(msg Message, reply ReplyFunc) error {
	return f(msg, reply)
}

// Handlers 路径 -> handler，构造 Service 时传入，之后不可修改
type Handlers map[string]Handler

// handlerRegistry Handlers 的只读副本
type handlerRegistry struct {
	m map[string]Handler
}

func newHandlerRegistry(h Handlers, mws ...Middleware) *handlerRegistry {
	r := &handlerRegistry{m: make(map[string]Handler, len(h))}
	for path, handler := range h {
		if handler == nil {
			continue
		}
		r.m[path] = Chain(handler, mws...)
	}
	return r
}

func (r *handlerRegistry) lookup(path string) (Handler, bool) {
	h, ok := r.m[path]
	return h, ok
}

func (r *handlerRegistry) paths() []string {
	paths := make([]string, 0, len(r.m))
	for p := range r.m {
		paths = append(paths, p)
	}
	return paths
}
