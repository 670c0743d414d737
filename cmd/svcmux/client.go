package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/hunyxv/svcmux"
	"github.com/hunyxv/svcmux/registry"
	"github.com/hunyxv/svcmux/transport"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// resolveURL 未指定 url 时从注册中心找一个节点
func resolveURL(ctx context.Context, config *Config, logger svcmux.Logger) (string, error) {
	if config.URL != "" {
		return config.URL, nil
	}

	cnf := &registry.Config{
		ServicePrefix: config.Prefix,
		Node:          registry.Node{ServiceName: config.Service},
		Logger:        logger,
	}
	var (
		resolver registry.Resolver
		err      error
	)
	switch {
	case len(config.Etcd) > 0:
		cnf.Registries = config.Etcd
		resolver, err = registry.NewEtcdResolver(cnf)
	case len(config.Consul) > 0:
		cnf.Registries = config.Consul
		resolver, err = registry.NewConsulResolver(cnf)
	default:
		return "", errors.New("no url and no registry given")
	}
	if err != nil {
		return "", err
	}
	defer resolver.Stop()

	dir := registry.NewDirectory()
	go resolver.Watch(dir)
	node, err := dir.Wait(ctx)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", config.Service)
	}
	logger.Debugf("resolved %s -> %s (%s)", config.Service, node.NodeID, node.Endpoint)
	return node.Endpoint, nil
}

// connect 建立连接并等待 OPEN
func connect(ctx context.Context, config *Config, logger svcmux.Logger) (*svcmux.Service, error) {
	rawurl, err := resolveURL(ctx, config, logger)
	if err != nil {
		return nil, err
	}

	codec := svcmux.CodecByName(config.Codec)
	wsOpts := []transport.WebSocketOption{
		transport.WithWebSocketLogger(logger),
		transport.WithHandshakeTimeout(config.Timeout),
	}
	if codec.Name() == "msgpack" {
		wsOpts = append(wsOpts, transport.WithBinaryMessages())
	}

	opened := make(chan struct{})
	failed := make(chan error, 1)
	hooks := &svcmux.HookFuncs{
		Open: func() { close(opened) },
		Error: func(err error) {
			logger.Warnf("error: %v", err)
			select {
			case failed <- err:
			default:
			}
		},
		Close: func() {
			select {
			case failed <- errors.New("connection closed"):
			default:
			}
		},
	}
	s := svcmux.New(transport.NewWebSocketDialer(rawurl, wsOpts...), nil,
		svcmux.WithLogger(logger),
		svcmux.WithHooks(hooks),
		svcmux.WithCodec(codec),
		svcmux.WithSolicitTimeout(config.Timeout),
		svcmux.WithMetrics(prometheus.DefaultRegisterer))

	select {
	case <-opened:
		return s, nil
	case err := <-failed:
		s.Close()
		return nil, err
	case <-ctx.Done():
		s.Close()
		return nil, errors.Wrap(ctx.Err(), "connect")
	}
}

// parsePayload 命令行中的 JSON 对象
func parsePayload(arg string) (svcmux.Payload, error) {
	if arg == "" {
		return nil, nil
	}
	var payload svcmux.Payload
	if err := json.Unmarshal([]byte(arg), &payload); err != nil {
		return nil, errors.Wrap(err, "payload must be a JSON object")
	}
	return payload, nil
}

func printMessage(msg svcmux.Message) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(msg)
}
