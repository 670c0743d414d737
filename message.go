package svcmux

import (
	"strings"
)

const (
	NOTIFY   = "notify"   // 通知，无需应答
	SOLICIT  = "solicit"  // 本端发起的请求
	RESPONSE = "response" // solicit 的应答
	REQUEST  = "request"  // 对端发起的请求
	CONSUME  = "consume"  // 同 request
	REPLY    = "reply"    // request/consume 的应答

	MESSAGEID  = "id"    // 关联 id
	TRACEFIELD = "trace" // 链路追踪信息
)

// Kind 消息类型
type Kind int

const (
	KindUnknown Kind = iota
	KindNotify
	KindSolicit
	KindResponse
	KindRequest
	KindConsume
	KindReply
)

var kindFields = []struct {
	kind  Kind
	field string
}{
	// 顺序即分类优先级：先 response，再 request/consume
	{KindResponse, RESPONSE},
	{KindRequest, REQUEST},
	{KindConsume, CONSUME},
	{KindSolicit, SOLICIT},
	{KindNotify, NOTIFY},
	{KindReply, REPLY},
}

func (k Kind) String() string {
	for _, kf := range kindFields {
		if kf.kind == k {
			return kf.field
		}
	}
	return "unknown"
}

// Field 该类型消息中携带路径的字段名
func (k Kind) Field() string {
	for _, kf := range kindFields {
		if kf.kind == k {
			return kf.field
		}
	}
	return ""
}

// Payload 调用方自定义的消息字段
type Payload map[string]interface{}

// Message 线上传输的一条消息
type Message map[string]interface{}

func (m Message) Set(key string, value interface{}) {
	m[key] = value
}

func (m Message) Get(key string) interface{} {
	if m == nil {
		return nil
	}
	return m[key]
}

// GetString 字段不存在或不是字符串时返回 ""
func (m Message) GetString(key string) string {
	s, _ := m.Get(key).(string)
	return s
}

func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

func (m Message) Del(key string) {
	delete(m, key)
}

// Pop 删除并返回字段
func (m Message) Pop(key string) interface{} {
	v, ok := m[key]
	if ok {
		delete(m, key)
	}
	return v
}

// Kind 根据携带的字段判断消息类型
func (m Message) Kind() Kind {
	for _, kf := range kindFields {
		if v, ok := m[kf.field]; ok && v != nil && v != "" {
			return kf.kind
		}
	}
	return KindUnknown
}

// Path 消息类型字段对应的路径
func (m Message) Path() string {
	return m.GetString(m.Kind().Field())
}

// ID 关联 id；id 不是字符串时（比如对端发送的是数字）转换为字符串
func (m Message) ID() string {
	return idString(m.Get(MESSAGEID))
}

func (m Message) Clone() Message {
	c := make(Message, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// newMessage traced 为 true 时 trace 也是保留字段
func newMessage(kind Kind, path string, payload Payload, traced bool) (Message, error) {
	msg := make(Message, len(payload)+2)
	for k, v := range payload {
		if isReserved(k, traced) {
			return nil, ErrReservedField
		}
		msg[k] = v
	}
	msg[kind.Field()] = path
	return msg, nil
}

func isReserved(key string, traced bool) bool {
	if key == MESSAGEID || (traced && key == TRACEFIELD) {
		return true
	}
	for _, kf := range kindFields {
		if kf.field == key {
			return true
		}
	}
	return false
}

// lastSegment 路径最后一段，"math/add" -> "add"
func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// replyPath reply 只给出了叶子名时补全为 "{path}/{leaf}"
func replyPath(path, reply string) string {
	if strings.HasPrefix(reply, path) {
		return reply
	}
	return path + "/" + reply
}
