package svcmux

// Hooks 连接生命周期回调，每个 Service 只有一组
//  transport 事件、消息分发、solicit 超时、创建失败触发的回调依次执行，不会并发；
//  没有 transport 时 Close 在调用方的 goroutine 中直接调用 OnClose
type Hooks interface {
	OnOpen()
	OnClose()
	OnError(err error)
}

// MessageObserver Hooks 可选实现，分发前观察每条收到的消息
type MessageObserver interface {
	OnMessage(msg Message)
}

// HookFuncs 函数适配 Hooks，nil 字段忽略
type HookFuncs struct {
	Open    func()
	Close   func()
	Error   func(err error)
	Message func(msg Message)
}

var (
	_ Hooks           = (*HookFuncs)(nil)
	_ MessageObserver = (*HookFuncs)(nil)
)

func (h *HookFuncs) OnOpen() {
	if h.Open != nil {
		h.Open()
	}
}

func (h *HookFuncs) OnClose() {
	if h.Close != nil {
		h.Close()
	}
}

func (h *HookFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

func (h *HookFuncs) OnMessage(msg Message) {
	if h.Message != nil {
		h.Message(msg)
	}
}

// logHooks 未设置 Hooks 时使用，仅记录日志
type logHooks struct {
	logger Logger
}

func (h logHooks) OnOpen()  { h.logger.Debug("connection opened") }
func (h logHooks) OnClose() { h.logger.Debug("connection closed") }
func (h logHooks) OnError(err error) {
	h.logger.Warnf("connection error: %v", err)
}
