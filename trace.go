package svcmux

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "svcmux-go"

type tracing struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func newTracing(tp trace.TracerProvider) *tracing {
	if tp == nil {
		return nil
	}
	return &tracing{
		tracer:     tp.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
	}
}

// solicitSpan 从发送 solicit 到收到 response（或超时、关闭）
type solicitSpan struct {
	span trace.Span
}

// startSolicit 开始 span，并把追踪信息写入 msg 的 trace 字段
func (t *tracing) startSolicit(path string, msg Message) *solicitSpan {
	if t == nil {
		return nil
	}
	ctx, span := t.tracer.Start(context.Background(), SOLICIT+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("svcmux.path", path)))

	carrier := propagation.MapCarrier{}
	t.propagator.Inject(ctx, carrier)
	if len(carrier) > 0 {
		msg[TRACEFIELD] = map[string]string(carrier)
	}
	return &solicitSpan{span: span}
}

func (s *solicitSpan) setID(id string) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.String("svcmux.id", id))
}

func (s *solicitSpan) end(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

// startHandler 从 request/consume 的 trace 字段恢复上下文，开始服务端 span
func (t *tracing) startHandler(kind Kind, path string, carrier interface{}) trace.Span {
	if t == nil {
		return nil
	}
	ctx := t.propagator.Extract(context.Background(), toMapCarrier(carrier))
	_, span := t.tracer.Start(ctx, kind.String()+" "+path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("svcmux.path", path)))
	return span
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// toMapCarrier 解码后的 trace 字段可能是 map[string]interface{}
func toMapCarrier(v interface{}) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	switch m := v.(type) {
	case map[string]string:
		for k, val := range m {
			carrier[k] = val
		}
	case map[string]interface{}:
		for k, val := range m {
			carrier[k] = fmt.Sprint(val)
		}
	case Message:
		for k, val := range m {
			carrier[k] = fmt.Sprint(val)
		}
	}
	return carrier
}
