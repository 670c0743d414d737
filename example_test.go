package svcmux_test

import (
	"context"
	"fmt"
	"time"

	"github.com/hunyxv/svcmux"
	"github.com/hunyxv/svcmux/transport"
)

// echoPeer 对端：把 solicit 原样作为 response 返回
type echoPeer struct {
	tr    svcmux.Transport
	ready chan struct{}
}

func (p *echoPeer) Opened()           {}
func (p *echoPeer) Closed()           {}
func (p *echoPeer) Errored(err error) {}

func (p *echoPeer) Received(data []byte) {
	<-p.ready
	msg, err := svcmux.JSONCodec{}.Unmarshal(data)
	if err != nil || msg.Kind() != svcmux.KindSolicit {
		return
	}
	msg[svcmux.RESPONSE] = msg.Pop(svcmux.SOLICIT)
	out, _ := svcmux.JSONCodec{}.Marshal(msg)
	p.tr.Send(out)
}

func ExampleService_Call() {
	local, remote := transport.Pipe()
	peer := &echoPeer{ready: make(chan struct{})}
	peer.tr, _ = remote.Dial(context.Background(), peer)
	close(peer.ready)

	opened := make(chan struct{})
	s := svcmux.New(local, nil,
		svcmux.WithLogger(svcmux.NopLogger{}),
		svcmux.WithHooks(&svcmux.HookFuncs{Open: func() { close(opened) }}))
	defer s.Close()
	<-opened

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := s.Call(ctx, "math/greet", svcmux.Payload{"name": "world"})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(resp.Path(), resp["name"])
	// Output: greet world
}
