package svcmux

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pborman/uuid"
)

var origin int64

func init() {
	start, err := time.ParseInLocation("2006-01-02 15:04:05", "2021-11-17 11:47:00", time.Local)
	if err != nil {
		panic(err)
	}
	origin = start.UnixNano() / int64(time.Millisecond)
}

// NewMessageID 生成全局唯一 id：毫秒时间前缀 + 随机 uuid 后半段
func NewMessageID() (id string) {
	now := time.Now().UnixNano()/int64(time.Millisecond) - origin
	_uuid := uuid.NewRandom().Array()
	idPrefix := bytes.NewBuffer([]byte{})
	binary.Write(idPrefix, binary.BigEndian, now)
	var _id [27]byte
	hex.Encode(_id[:], idPrefix.Bytes()[3:])
	_id[10] = '-'
	hex.Encode(_id[11:], _uuid[8:])
	return string(_id[:])
}

// IDGenerator 生成 solicit 关联 id
//  只需保证同一个 Service 上正在等待应答的 id 不重复
type IDGenerator interface {
	NextID() string
}

// IDGeneratorFunc 函数适配 IDGenerator
type IDGeneratorFunc func() string

func (f IDGeneratorFunc) NextID() string { return f() }

// CounterIDGenerator 单调递增计数器，从 1 开始
type CounterIDGenerator struct {
	n uint64
}

func (g *CounterIDGenerator) NextID() string {
	return strconv.FormatUint(atomic.AddUint64(&g.n, 1), 10)
}

// UUIDIDGenerator 使用 NewMessageID
type UUIDIDGenerator struct{}

func (UUIDIDGenerator) NextID() string { return NewMessageID() }

// idString 对端可能把 id 编码成数字
func idString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(id), 'f', -1, 32)
	case int:
		return strconv.Itoa(id)
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", id)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", id)
	}
	return fmt.Sprint(v)
}
