package svcmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTracingStripsTraceField(t *testing.T) {
	var got Message
	handlers := Handlers{
		"traced": HandlerFunc(func(msg Message, reply ReplyFunc) error {
			got = msg
			return reply(Message{"reply": "ok"})
		}),
	}
	s, ft, rec := newTestService(t, handlers, WithTracing(trace.NewNoopTracerProvider()))

	ft.inject(t, map[string]interface{}{
		"request": "traced",
		"id":      "1",
		"trace":   map[string]string{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
	})
	assert.Equal(t, Message{"request": "traced"}, got)
	require.Len(t, ft.Sent(), 1)
	assert.False(t, ft.Sent()[0].Has(TRACEFIELD))
	assert.Empty(t, rec.Errors())

	var resp Message
	_, err := s.Solicit("remote/op", nil, func(msg Message) { resp = msg })
	require.NoError(t, err)
	ft.inject(t, map[string]interface{}{"response": "remote/op", "id": "1", "trace": map[string]string{}})
	assert.Equal(t, Message{"response": "op"}, resp)
}

func TestToMapCarrier(t *testing.T) {
	assert.Equal(t, propagation.MapCarrier{"a": "1"}, toMapCarrier(map[string]interface{}{"a": 1}))
	assert.Equal(t, propagation.MapCarrier{"a": "b"}, toMapCarrier(map[string]string{"a": "b"}))
	assert.Equal(t, propagation.MapCarrier{}, toMapCarrier(nil))
}
