package svcmux

import (
	"errors"
	"fmt"
)

var (
	ErrClosed         = errors.New("svcmux: service is closed")
	ErrNotOpen        = errors.New("svcmux: transport is not open")
	ErrReservedField  = errors.New("svcmux: payload uses a reserved field")
	ErrAlreadyReplied = errors.New("svcmux: request already replied")
	ErrNoReplyPath    = errors.New("svcmux: reply message has no reply field")
	ErrNoHandler      = errors.New("svcmux: no handler registered")
	ErrIDCollision    = errors.New("svcmux: correlation id already pending")
)

// ErrorKind 上报给 OnError 的错误分类
type ErrorKind int

const (
	ErrTransportConstruction ErrorKind = iota + 1 // 无法创建 transport（比如地址不合法）
	ErrTransportRuntime                           // transport 运行中出现的错误
	ErrHandlerDispatch                            // handler 返回错误或 panic
	ErrMissingHandler                             // 路径没有注册 handler
	ErrMalformedMessage                           // 无法解码的消息
	ErrUnexpectedMessage                          // 对端不应发送的消息类型
	ErrSolicitExpired                             // solicit 等待应答超时
)

var errorKindNames = map[ErrorKind]string{
	ErrTransportConstruction: "transport construction failure",
	ErrTransportRuntime:      "transport runtime error",
	ErrHandlerDispatch:       "handler dispatch failure",
	ErrMissingHandler:        "missing handler",
	ErrMalformedMessage:      "malformed message",
	ErrUnexpectedMessage:     "unexpected message",
	ErrSolicitExpired:        "solicit expired",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error 携带上下文（路径、原始消息、原因）的错误，通过 Hooks.OnError 上报
type Error struct {
	Kind    ErrorKind
	Path    string
	Message Message
	Err     error
}

func (e *Error) Error() string {
	s := "svcmux: " + e.Kind.String()
	if e.Path != "" {
		s += " [" + e.Path + "]"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind 判断 err 是否为指定分类的 *Error
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
