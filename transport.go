package svcmux

import "context"

// Transport 已建立（或正在建立）的双工消息通道
//  Send 需要可以被多个 goroutine 调用；Close 可重复调用
type Transport interface {
	Send(data []byte) error
	Close() error
}

// TransportEvents transport 生命周期事件
//  transport 必须按收到的顺序、逐条调用 Received
type TransportEvents interface {
	Opened()
	Closed()
	Errored(err error)
	Received(data []byte)
}

// Dialer 创建 transport
//  Dial 不应阻塞等待连接建立，连接结果通过 events 通知；
//  已经建立好的连接可以在 Dial 返回前直接调用 events，事件在 Dial 返回后按顺序处理；
//  只有无法创建（比如地址不合法）时才返回 error
type Dialer interface {
	Dial(ctx context.Context, events TransportEvents) (Transport, error)
}

// DialerFunc 函数适配 Dialer
type DialerFunc func(ctx context.Context, events TransportEvents) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, events TransportEvents) (Transport, error) {
	return f(ctx, events)
}
