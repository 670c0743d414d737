package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hunyxv/svcmux"
	"github.com/hunyxv/svcmux/registry"
	"github.com/hunyxv/svcmux/transport"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// route 处理一个 solicit，返回 response 的 payload
type route func(msg svcmux.Message) (svcmux.Payload, error)

var defaultRoutes = map[string]route{
	"echo": func(msg svcmux.Message) (svcmux.Payload, error) {
		payload := svcmux.Payload{}
		for k, v := range msg {
			if k != svcmux.SOLICIT && k != svcmux.MESSAGEID {
				payload[k] = v
			}
		}
		return payload, nil
	},
	"time": func(msg svcmux.Message) (svcmux.Payload, error) {
		return svcmux.Payload{"time": time.Now().Format(time.RFC3339Nano)}, nil
	},
}

// server 服务端：应答 solicit，记录 notify
type server struct {
	codec    svcmux.Codec
	logger   svcmux.Logger
	routes   map[string]route
	served   *prometheus.CounterVec
	upgrader websocket.Upgrader
}

func newServer(config *Config, logger svcmux.Logger, r prometheus.Registerer) (*server, error) {
	served := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svcmux",
		Subsystem: "server",
		Name:      "solicits_total",
		Help:      "Solicits answered, by route and result.",
	}, []string{"route", "result"})
	if err := r.Register(served); err != nil {
		return nil, err
	}
	return &server{
		codec:  svcmux.CodecByName(config.Codec),
		logger: logger,
		routes: defaultRoutes,
		served: served,
	}, nil
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("serve: upgrade %s: %v", r.RemoteAddr, err)
		return
	}

	opts := []transport.WebSocketOption{transport.WithWebSocketLogger(s.logger)}
	if s.codec.Name() == "msgpack" {
		opts = append(opts, transport.WithBinaryMessages())
	}
	rs := &responder{srv: s, peer: r.RemoteAddr, ready: make(chan struct{})}
	tr, err := transport.Accept(conn, opts...).Dial(r.Context(), rs)
	if err != nil {
		s.logger.Warnf("serve: accept %s: %v", r.RemoteAddr, err)
		conn.Close()
		return
	}
	rs.tr = tr
	close(rs.ready)
}

// handler websocket 与 /metrics
func (s *server) handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/svc_rest/websocket/", s)
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}

var _ svcmux.TransportEvents = (*responder)(nil)

// responder 一个 websocket 连接
type responder struct {
	srv   *server
	peer  string
	tr    svcmux.Transport
	ready chan struct{}
}

func (rs *responder) Opened() { rs.srv.logger.Debugf("serve: %s connected", rs.peer) }
func (rs *responder) Closed() { rs.srv.logger.Debugf("serve: %s disconnected", rs.peer) }

func (rs *responder) Errored(err error) {
	rs.srv.logger.Warnf("serve: %s: %v", rs.peer, err)
}

func (rs *responder) Received(data []byte) {
	<-rs.ready
	msg, err := rs.srv.codec.Unmarshal(data)
	if err != nil {
		rs.srv.logger.Warnf("serve: %s: %v", rs.peer, err)
		return
	}

	switch msg.Kind() {
	case svcmux.KindSolicit:
		rs.answer(msg)
	case svcmux.KindNotify, svcmux.KindReply:
		rs.srv.logger.Infof("serve: %s %s %s", rs.peer, msg.Kind(), msg.Path())
	default:
		rs.srv.logger.Warnf("serve: %s unexpected %s message", rs.peer, msg.Kind())
	}
}

func (rs *responder) answer(msg svcmux.Message) {
	path := msg.Path()
	name := path[strings.LastIndex(path, "/")+1:]

	result := "ok"
	resp := svcmux.Message{}
	if f, ok := rs.srv.routes[name]; !ok {
		result = "missing"
		resp["error"] = "no handler for " + path
	} else if payload, err := f(msg); err != nil {
		result = "error"
		resp["error"] = err.Error()
	} else {
		for k, v := range payload {
			resp[k] = v
		}
	}
	resp[svcmux.RESPONSE] = path
	resp[svcmux.MESSAGEID] = msg[svcmux.MESSAGEID]
	rs.srv.served.WithLabelValues(name, result).Inc()

	data, err := rs.srv.codec.Marshal(resp)
	if err != nil {
		rs.srv.logger.Errorf("serve: %s: %v", rs.peer, err)
		return
	}
	if err := rs.tr.Send(data); err != nil {
		rs.srv.logger.Warnf("serve: %s send: %v", rs.peer, err)
	}
}

// newRegister 根据配置选择注册中心，没有配置时返回 nil
func newRegister(config *Config, logger svcmux.Logger) (registry.Register, error) {
	endpoint := config.Endpoint
	if endpoint == "" {
		host := config.Listen
		if strings.HasPrefix(host, ":") {
			host = "127.0.0.1" + host
		}
		endpoint = transport.ServiceURL("ws://"+host, config.Service)
	}
	nodeID := config.NodeID
	if nodeID == "" {
		nodeID = uuid.NewRandom().String()
	}
	cnf := &registry.Config{
		ServicePrefix: config.Prefix,
		Node: registry.Node{
			ServiceName: config.Service,
			NodeID:      nodeID,
			Endpoint:    endpoint,
		},
		Logger: logger,
	}

	switch {
	case len(config.Etcd) > 0:
		cnf.Registries = config.Etcd
		return registry.NewEtcdRegister(cnf)
	case len(config.Consul) > 0:
		cnf.Registries = config.Consul
		return registry.NewConsulRegister(cnf)
	}
	return nil, nil
}

func runServe(config *Config, logger svcmux.Logger) error {
	srv, err := newServer(config, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	register, err := newRegister(config, logger)
	if err != nil {
		return errors.Wrap(err, "registry")
	}

	httpServer := &http.Server{Addr: config.Listen, Handler: srv.handler(prometheus.DefaultGatherer)}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	logger.Infof("serve: %s listening on %s", config.Service, config.Listen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if register != nil {
		go register.Register(ctx)
		defer register.Deregister()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		logger.Infof("serve: %v, shutting down", s)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.Timeout)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
