package svcmux

import (
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

type Option func(opt *options)

type options struct {
	Logger         Logger                // logger
	Hooks          Hooks                 // 生命周期回调
	Codec          Codec                 // 消息编解码
	IDGenerator    IDGenerator           // solicit id 生成器
	SolicitTimeout time.Duration         // solicit 等待应答的最长时间，0 表示一直等待
	ManualOpen     bool                  // New 时不自动 Open
	WorkPool       *ants.Pool            // 执行延迟回调的工作池
	Registerer     prometheus.Registerer // 指标注册
	TracerProvider trace.TracerProvider  // 链路追踪
	Middlewares    []Middleware          // 包装所有 handler
}

// WithLogger 设置 logger
func WithLogger(logger Logger) Option {
	return func(opt *options) {
		opt.Logger = logger
	}
}

// WithHooks 设置 OnOpen/OnClose/OnError 回调
func WithHooks(h Hooks) Option {
	return func(opt *options) {
		opt.Hooks = h
	}
}

// WithCodec 设置编解码（默认 JSON）
func WithCodec(c Codec) Option {
	return func(opt *options) {
		opt.Codec = c
	}
}

// WithIDGenerator 设置 solicit id 生成器（默认递增计数器）
func WithIDGenerator(g IDGenerator) Option {
	return func(opt *options) {
		opt.IDGenerator = g
	}
}

// WithSolicitTimeout 等待应答超时后丢弃 solicit 并通过 OnError 上报
func WithSolicitTimeout(t time.Duration) Option {
	return func(opt *options) {
		opt.SolicitTimeout = t
	}
}

// WithManualOpen 需要调用方手动 Open
func WithManualOpen() Option {
	return func(opt *options) {
		opt.ManualOpen = true
	}
}

// WithWorkPool 设置工作池（默认使用包级工作池）
func WithWorkPool(p *ants.Pool) Option {
	return func(opt *options) {
		opt.WorkPool = p
	}
}

// WithMetrics 注册 prometheus 指标
func WithMetrics(r prometheus.Registerer) Option {
	return func(opt *options) {
		opt.Registerer = r
	}
}

// WithTracing 开启链路追踪，追踪信息通过 trace 字段传递
func WithTracing(tp trace.TracerProvider) Option {
	return func(opt *options) {
		opt.TracerProvider = tp
	}
}

// WithMiddleware 用 mws 包装所有 handler，第一个在最外层
func WithMiddleware(mws ...Middleware) Option {
	return func(opt *options) {
		opt.Middlewares = append(opt.Middlewares, mws...)
	}
}
