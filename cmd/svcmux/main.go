package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hunyxv/svcmux"
	"github.com/urfave/cli"
)

// VERSION 发布时通过 -ldflags 设置
var VERSION = "SELFBUILD"

func main() {
	app := cli.NewApp()
	app.Name = "svcmux"
	app.Usage = "notify / solicit a service over websocket, or serve one"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "yaml config file, overridden by flags",
		},
		cli.StringFlag{
			Name:  "url, u",
			Usage: "service websocket url, eg: ws://127.0.0.1:8080/svc_rest/websocket/svcmux",
		},
		cli.StringFlag{
			Name:  "codec",
			Value: "json",
			Usage: "json or msgpack",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: defaultConfig().Timeout,
			Usage: "connect and response timeout",
		},
		cli.StringFlag{
			Name:  "service, s",
			Value: defaultConfig().Service,
			Usage: "service name used with a registry",
		},
		cli.StringSliceFlag{
			Name:  "etcd",
			Usage: "etcd endpoint, may be repeated",
		},
		cli.StringSliceFlag{
			Name:  "consul",
			Usage: "consul address, may be repeated",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "debug, info, warn, error",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "notify",
			Usage:     "send a notify",
			ArgsUsage: "PATH [JSON]",
			Action:    notifyAction,
		},
		{
			Name:      "solicit",
			Usage:     "send a solicit and print the response",
			ArgsUsage: "PATH [JSON]",
			Action:    solicitAction,
		},
		{
			Name:  "serve",
			Usage: "answer solicits on a websocket endpoint",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "listen, l",
					Value: defaultConfig().Listen,
					Usage: "listen address",
				},
				cli.StringFlag{
					Name:  "endpoint",
					Usage: "websocket url registered with the registry",
				},
				cli.StringFlag{
					Name:  "nodeid",
					Usage: "node id registered with the registry, random when empty",
				},
			},
			Action: serveAction,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withService 加载配置，连接后执行 f，最后关闭连接
func withService(c *cli.Context, f func(ctx context.Context, s *svcmux.Service, path string, payload svcmux.Payload) error) error {
	if c.NArg() < 1 {
		return cli.NewExitError("PATH is required", 2)
	}
	config, err := loadConfig(c)
	if err != nil {
		return err
	}
	payload, err := parsePayload(c.Args().Get(1))
	if err != nil {
		return err
	}
	logger := config.logger()

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	s, err := connect(ctx, &config, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return f(ctx, s, c.Args().First(), payload)
}

func notifyAction(c *cli.Context) error {
	return withService(c, func(ctx context.Context, s *svcmux.Service, path string, payload svcmux.Payload) error {
		return s.Notify(path, payload)
	})
}

func solicitAction(c *cli.Context) error {
	return withService(c, func(ctx context.Context, s *svcmux.Service, path string, payload svcmux.Payload) error {
		resp, err := s.Call(ctx, path, payload)
		if err != nil {
			return err
		}
		return printMessage(resp)
	})
}

func serveAction(c *cli.Context) error {
	config, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("listen") || config.Listen == "" {
		config.Listen = c.String("listen")
	}
	if c.IsSet("endpoint") {
		config.Endpoint = c.String("endpoint")
	}
	if c.IsSet("nodeid") {
		config.NodeID = c.String("nodeid")
	}
	return runServe(&config, config.logger())
}
