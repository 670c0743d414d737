package svcmux

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	messages *prometheus.CounterVec // direction, kind
	errors   *prometheus.CounterVec // kind
	pending  prometheus.Gauge
}

func newMetrics(r prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "svcmux",
			Name:      "messages_total",
			Help:      "Messages sent and received, by direction and kind.",
		}, []string{"direction", "kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "svcmux",
			Name:      "errors_total",
			Help:      "Errors reported through OnError, by kind.",
		}, []string{"kind"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "svcmux",
			Name:      "pending_solicits",
			Help:      "Solicits waiting for a response.",
		}),
	}

	var err error
	if m.messages, err = register(r, m.messages); err != nil {
		return nil, err
	}
	if m.errors, err = register(r, m.errors); err != nil {
		return nil, err
	}
	if m.pending, err = register(r, m.pending); err != nil {
		return nil, err
	}
	return m, nil
}

// register 多个 Service 共用一个 Registerer 时复用已注册的指标
func register[T prometheus.Collector](r prometheus.Registerer, c T) (T, error) {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) sent(k Kind) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("out", k.String()).Inc()
}

func (m *metrics) received(k Kind) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("in", k.String()).Inc()
}

func (m *metrics) failed(k ErrorKind) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(k.String()).Inc()
}

func (m *metrics) addPending(delta int) {
	if m == nil {
		return
	}
	m.pending.Add(float64(delta))
}
