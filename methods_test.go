package svcmux

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type textServer struct{}

func (textServer) Upper(msg Message, reply ReplyFunc) error {
	return reply(Message{"reply": "ok", "text": strings.ToUpper(msg.GetString("text"))})
}

func (textServer) Lower(msg Message, reply ReplyFunc) error {
	return reply(Message{"reply": "ok", "text": strings.ToLower(msg.GetString("text"))})
}

type badServer struct{}

func (badServer) Upper(msg Message) error { return nil }

func TestMethods(t *testing.T) {
	h, err := Methods("", textServer{})
	require.NoError(t, err)
	paths := make([]string, 0, len(h))
	for p := range h {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"textServer/Lower", "textServer/Upper"}, paths)

	h, err = Methods("text", &textServer{})
	require.NoError(t, err)
	s, ft, rec := newTestService(t, h)
	ft.inject(t, map[string]interface{}{"request": "text/Upper", "id": "1", "text": "abc"})
	assert.Equal(t, []Message{{"reply": "text/Upper/ok", "id": "1", "text": "ABC"}}, ft.Sent())
	assert.Empty(t, rec.Errors())
	assert.ElementsMatch(t, []string{"text/Upper", "text/Lower"}, s.Paths())
}

func TestMethodsInvalid(t *testing.T) {
	_, err := Methods("x", nil)
	assert.ErrorIs(t, err, ErrInvalidServer)
	var nilServer *textServer
	_, err = Methods("x", nilServer)
	assert.ErrorIs(t, err, ErrInvalidServer)
	_, err = Methods("x", struct{}{})
	assert.ErrorIs(t, err, ErrInvalidServer)
	_, err = Methods("bad", badServer{})
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestMiddleware(t *testing.T) {
	var order []string
	h, err := Methods("text", textServer{})
	require.NoError(t, err)
	_, ft, _ := newTestService(t, Merge(h, Handlers{"fail": HandlerFunc(func(msg Message, reply ReplyFunc) error {
		return assert.AnError
	})}),
		WithMiddleware(
			BeforeServe(func(msg Message) { order = append(order, "before "+msg.Path()) }),
			AfterServe(func(msg Message, err error) { order = append(order, "after "+msg.Path()) }),
			LogServe(NopLogger{}),
		))

	ft.inject(t, map[string]interface{}{"consume": "text/Lower", "id": "1", "text": "ABC"})
	ft.inject(t, map[string]interface{}{"request": "fail", "id": "2"})
	assert.Equal(t, []string{"before text/Lower", "after text/Lower", "before fail", "after fail"}, order)
	assert.Equal(t, "abc", ft.Sent()[0]["text"])
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(msg Message, reply ReplyFunc) error {
				order = append(order, name)
				return next.Serve(msg, reply)
			})
		}
	}
	h := Chain(HandlerFunc(func(msg Message, reply ReplyFunc) error {
		order = append(order, "handler")
		return nil
	}), mw("a"), mw("b"))
	require.NoError(t, h.Serve(Message{}, nil))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}
