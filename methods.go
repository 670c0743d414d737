package svcmux

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidServer = errors.New("svcmux: register server err: invalid server")
	ErrInvalidMethod = errors.New("svcmux: method must be func(Message, ReplyFunc) error")
)

// Methods 把 server 的导出方法注册为 handler，路径为 "{name}/{MethodName}"
//  name 为空时使用 server 的类型名
func Methods(name string, server interface{}) (Handlers, error) {
	rv := reflect.ValueOf(server)
	if !rv.IsValid() || (rv.Kind() == reflect.Ptr && rv.IsNil()) {
		return nil, ErrInvalidServer
	}

	t := rv.Type()
	if name == "" {
		if t.Kind() == reflect.Ptr {
			name = t.Elem().Name()
		} else {
			name = t.Name()
		}
	}
	name = strings.TrimSuffix(name, "/")
	if name == "" || rv.NumMethod() == 0 {
		return nil, ErrInvalidServer
	}

	handlers := make(Handlers, rv.NumMethod())
	for i := 0; i < rv.NumMethod(); i++ {
		fn, ok := rv.Method(i).Interface().(func(Message, ReplyFunc) error)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidMethod, "%s.%s", name, t.Method(i).Name)
		}
		handlers[name+"/"+t.Method(i).Name] = HandlerFunc(fn)
	}
	return handlers, nil
}

// Merge 合并多组 handler，路径重复时后面的覆盖前面的
func Merge(hs ...Handlers) Handlers {
	merged := make(Handlers)
	for _, h := range hs {
		for path, handler := range h {
			merged[path] = handler
		}
	}
	return merged
}
