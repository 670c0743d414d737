package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hunyxv/svcmux"
	"github.com/hunyxv/svcmux/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, codec string) (*httptest.Server, *Config) {
	t.Helper()
	config := defaultConfig()
	config.Codec = codec
	config.Timeout = 2 * time.Second

	reg := prometheus.NewRegistry()
	srv, err := newServer(&config, svcmux.NopLogger{}, reg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.handler(reg))
	t.Cleanup(ts.Close)

	config.URL = transport.ServiceURL("ws"+strings.TrimPrefix(ts.URL, "http"), config.Service)
	return ts, &config
}

func TestServeSolicit(t *testing.T) {
	for _, codec := range []string{"json", "msgpack"} {
		t.Run(codec, func(t *testing.T) {
			ts, config := startServer(t, codec)

			ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
			defer cancel()
			s, err := connect(ctx, config, svcmux.NopLogger{})
			require.NoError(t, err)
			defer s.Close()

			resp, err := s.Call(ctx, "svcmux/echo", svcmux.Payload{"value": "hi"})
			require.NoError(t, err)
			assert.Equal(t, svcmux.Message{"response": "echo", "value": "hi"}, resp)

			resp, err = s.Call(ctx, "svcmux/time", nil)
			require.NoError(t, err)
			assert.Equal(t, "time", resp.Path())
			_, err = time.Parse(time.RFC3339Nano, resp.GetString("time"))
			assert.NoError(t, err)

			resp, err = s.Call(ctx, "svcmux/nope", nil)
			require.NoError(t, err)
			assert.Equal(t, "no handler for svcmux/nope", resp.GetString("error"))

			require.NoError(t, s.Notify("svcmux/hello", nil))

			res, err := http.Get(ts.URL + "/metrics")
			require.NoError(t, err)
			defer res.Body.Close()
			body, err := io.ReadAll(res.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), `svcmux_server_solicits_total{result="missing",route="nope"} 1`)
			assert.Contains(t, string(body), `svcmux_server_solicits_total{result="ok",route="echo"} 1`)
		})
	}
}

func TestConnectWithoutURL(t *testing.T) {
	config := defaultConfig()
	_, err := connect(context.Background(), &config, svcmux.NopLogger{})
	assert.Error(t, err)
}

func TestConnectRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	config := defaultConfig()
	config.URL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/svc_rest/websocket/svcmux"
	ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := connect(ctx, &config, svcmux.NopLogger{})
	assert.Error(t, err)
}

func TestNewRegisterWithoutRegistry(t *testing.T) {
	config := defaultConfig()
	r, err := newRegister(&config, svcmux.NopLogger{})
	require.NoError(t, err)
	assert.Nil(t, r)
}
