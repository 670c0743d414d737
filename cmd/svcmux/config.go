package main

import (
	"os"
	"time"

	"github.com/hunyxv/svcmux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"
)

// Config 命令行配置，配置文件中的值会被命令行参数覆盖
type Config struct {
	URL      string        `yaml:"url"`      // 服务 websocket 地址，为空时通过注册中心发现
	Codec    string        `yaml:"codec"`    // json | msgpack
	Timeout  time.Duration `yaml:"timeout"`  // 等待连接与应答的时间
	Service  string        `yaml:"service"`  // 服务名
	Etcd     []string      `yaml:"etcd"`     // etcd endpoints
	Consul   []string      `yaml:"consul"`   // consul 地址
	Prefix   string        `yaml:"prefix"`   // 注册中心 key 前缀
	Listen   string        `yaml:"listen"`   // serve 监听地址
	Endpoint string        `yaml:"endpoint"` // serve 注册到注册中心的地址
	NodeID   string        `yaml:"nodeid"`
	LogLevel string        `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		Codec:    "json",
		Timeout:  10 * time.Second,
		Service:  "svcmux",
		Prefix:   "svcmux",
		Listen:   ":8080",
		LogLevel: "info",
	}
}

func parseYAMLConfig(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return errors.Wrapf(err, "config %s", path)
	}
	return nil
}

// loadConfig 默认值 -> 配置文件 -> 命令行参数
func loadConfig(c *cli.Context) (Config, error) {
	config := defaultConfig()
	if path := c.GlobalString("config"); path != "" {
		if err := parseYAMLConfig(&config, path); err != nil {
			return config, err
		}
	}

	if c.GlobalIsSet("url") {
		config.URL = c.GlobalString("url")
	}
	if c.GlobalIsSet("codec") {
		config.Codec = c.GlobalString("codec")
	}
	if c.GlobalIsSet("timeout") {
		config.Timeout = c.GlobalDuration("timeout")
	}
	if c.GlobalIsSet("service") {
		config.Service = c.GlobalString("service")
	}
	if c.GlobalIsSet("etcd") {
		config.Etcd = c.GlobalStringSlice("etcd")
	}
	if c.GlobalIsSet("consul") {
		config.Consul = c.GlobalStringSlice("consul")
	}
	if c.GlobalIsSet("log-level") {
		config.LogLevel = c.GlobalString("log-level")
	}
	return config, config.validate()
}

func (config *Config) validate() error {
	if svcmux.CodecByName(config.Codec) == nil {
		return errors.Errorf("unknown codec %q", config.Codec)
	}
	if config.Timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}
	if config.Service == "" {
		return errors.New("service name is empty")
	}
	if len(config.Etcd) > 0 && len(config.Consul) > 0 {
		return errors.New("use either etcd or consul, not both")
	}
	if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
		return err
	}
	return nil
}

func (config *Config) logger() *logrus.Entry {
	l := logrus.New()
	if level, err := logrus.ParseLevel(config.LogLevel); err == nil {
		l.SetLevel(level)
	}
	return l.WithField("component", "svcmux")
}
