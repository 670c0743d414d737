package svcmux

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec 消息编解码
type Codec interface {
	Marshal(msg Message) ([]byte, error)
	Unmarshal(data []byte) (Message, error)
	Name() string
}

var (
	_ Codec = JSONCodec{}
	_ Codec = MsgpackCodec{}
)

// JSONCodec 默认编码，一条消息一个 JSON 对象
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg Message) ([]byte, error) {
	b, err := json.Marshal(map[string]interface{}(msg))
	if err != nil {
		return nil, errors.Wrap(err, "json marshal")
	}
	return b, nil
}

func (JSONCodec) Unmarshal(data []byte) (Message, error) {
	var msg Message
	// 数字保留为 json.Number，大整数 id 原样带回
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(&msg); err != nil {
		return nil, errors.Wrap(err, "json unmarshal")
	}
	if _, err := d.Token(); err != io.EOF {
		return nil, errors.New("json unmarshal: trailing data after object")
	}
	if msg == nil {
		return nil, errors.New("json unmarshal: not an object")
	}
	return msg, nil
}

// MsgpackCodec 二进制 transport（比如 zmq）使用
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(msg Message) ([]byte, error) {
	b, err := msgpack.Marshal(map[string]interface{}(msg))
	if err != nil {
		return nil, errors.Wrap(err, "msgpack marshal")
	}
	return b, nil
}

func (MsgpackCodec) Unmarshal(data []byte) (Message, error) {
	var m map[string]interface{}
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "msgpack unmarshal")
	}
	if m == nil {
		return nil, errors.New("msgpack unmarshal: not a map")
	}
	return Message(m), nil
}

// CodecByName 根据名称获取 codec，未知名称返回 nil
func CodecByName(name string) Codec {
	switch name {
	case "", "json":
		return JSONCodec{}
	case "msgpack":
		return MsgpackCodec{}
	}
	return nil
}
