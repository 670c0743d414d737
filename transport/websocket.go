package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hunyxv/svcmux"
	"github.com/pkg/errors"
)

var ErrNotConnected = errors.New("transport: websocket is not connected")

// closeGrace 发出 close 帧后等待对端回应的时间
const closeGrace = 3 * time.Second

// PreConnectFunc 建立 websocket 前执行，比如先建立 cookie 会话
type PreConnectFunc func(ctx context.Context) error

type WebSocketOption func(opt *wsOptions)

type wsOptions struct {
	Header      http.Header
	Dialer      *websocket.Dialer
	PreConnect  PreConnectFunc
	MessageType int
	Logger      svcmux.Logger
}

// WithHeader 握手时附带的 header
func WithHeader(h http.Header) WebSocketOption {
	return func(opt *wsOptions) {
		opt.Header = h
	}
}

// WithHandshakeTimeout 握手超时
func WithHandshakeTimeout(t time.Duration) WebSocketOption {
	return func(opt *wsOptions) {
		opt.Dialer.HandshakeTimeout = t
	}
}

// WithCookieJar 与 PreConnect 中的 http.Client 共用 jar，握手时带上会话 cookie
func WithCookieJar(jar http.CookieJar) WebSocketOption {
	return func(opt *wsOptions) {
		opt.Dialer.Jar = jar
	}
}

// WithPreConnect 建立连接前执行 f，失败时上报错误并关闭
func WithPreConnect(f PreConnectFunc) WebSocketOption {
	return func(opt *wsOptions) {
		opt.PreConnect = f
	}
}

// WithBinaryMessages 使用二进制帧（配合 svcmux.MsgpackCodec）
func WithBinaryMessages() WebSocketOption {
	return func(opt *wsOptions) {
		opt.MessageType = websocket.BinaryMessage
	}
}

// WithWebSocketLogger 设置 logger
func WithWebSocketLogger(l svcmux.Logger) WebSocketOption {
	return func(opt *wsOptions) {
		opt.Logger = l
	}
}

func newWSOptions(opts []WebSocketOption) *wsOptions {
	d := *websocket.DefaultDialer
	defOpts := &wsOptions{
		Dialer:      &d,
		MessageType: websocket.TextMessage,
		Logger:      svcmux.DefaultLogger(),
	}
	for _, f := range opts {
		f(defOpts)
	}
	return defOpts
}

// ServiceURL 服务 websocket 地址：{base}/svc_rest/websocket/{href}
func ServiceURL(base, href string) string {
	return strings.Join([]string{base, "svc_rest/websocket", href}, "/")
}

// NewWebSocketDialer 连接到 rawurl（ws:// 或 wss://）
func NewWebSocketDialer(rawurl string, opts ...WebSocketOption) svcmux.Dialer {
	return &wsDialer{url: rawurl, opts: newWSOptions(opts)}
}

type wsDialer struct {
	url  string
	opts *wsOptions
}

// Dial 只同步校验地址，连接在后台建立
func (d *wsDialer) Dial(ctx context.Context, events svcmux.TransportEvents) (svcmux.Transport, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid websocket url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Errorf("invalid websocket url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.Errorf("invalid websocket url %q: no host", d.url)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &wsConn{events: events, opts: d.opts, cancel: cancel}
	go c.connect(ctx, u.String())
	return c, nil
}

// Accept 包装服务端已经升级的连接
func Accept(conn *websocket.Conn, opts ...WebSocketOption) svcmux.Dialer {
	o := newWSOptions(opts)
	return svcmux.DialerFunc(func(ctx context.Context, events svcmux.TransportEvents) (svcmux.Transport, error) {
		c := &wsConn{events: events, opts: o, conn: conn, cancel: func() {}}
		go func() {
			events.Opened()
			c.readLoop(conn)
		}()
		return c, nil
	})
}

var _ svcmux.Transport = (*wsConn)(nil)

type wsConn struct {
	events svcmux.TransportEvents
	opts   *wsOptions
	cancel context.CancelFunc

	mutex          sync.Mutex
	conn           *websocket.Conn
	closeRequested bool
	closeOnce      sync.Once
	writeMutex     sync.Mutex
}

func (c *wsConn) connect(ctx context.Context, rawurl string) {
	defer c.cancel()
	if c.opts.PreConnect != nil {
		if err := c.opts.PreConnect(ctx); err != nil {
			c.fail(errors.Wrap(err, "pre-connect"))
			return
		}
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, rawurl, c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.fail(errors.Wrapf(err, "dial %s", rawurl))
		return
	}

	c.mutex.Lock()
	if c.closeRequested {
		c.mutex.Unlock()
		conn.Close()
		c.closed()
		return
	}
	c.conn = conn
	c.mutex.Unlock()

	c.opts.Logger.Debugf("websocket: connected to %s", rawurl)
	c.events.Opened()
	c.readLoop(conn)
}

// fail 连接未建立：先报告错误再关闭，Close 引起的取消不算错误
func (c *wsConn) fail(err error) {
	c.mutex.Lock()
	requested := c.closeRequested
	c.mutex.Unlock()
	if !requested {
		c.events.Errored(err)
	}
	c.closed()
}

func (c *wsConn) readLoop(conn *websocket.Conn) {
	defer c.closed()
	defer conn.Close()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.mutex.Lock()
			requested := c.closeRequested
			c.mutex.Unlock()
			if !requested && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.events.Errored(err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		c.events.Received(data)
	}
}

func (c *wsConn) closed() {
	c.closeOnce.Do(c.events.Closed)
}

func (c *wsConn) Send(data []byte) error {
	c.mutex.Lock()
	conn := c.conn
	c.mutex.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return conn.WriteMessage(c.opts.MessageType, data)
}

// Close 发送 close 帧，连接真正关闭后触发 Closed
func (c *wsConn) Close() error {
	c.mutex.Lock()
	if c.closeRequested {
		c.mutex.Unlock()
		return nil
	}
	c.closeRequested = true
	conn := c.conn
	c.mutex.Unlock()

	if conn == nil { // 还在连接中
		c.cancel()
		return nil
	}

	c.writeMutex.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMutex.Unlock()
	if err != nil {
		return conn.Close()
	}
	// 对端不回应 close 帧时，readLoop 超时退出
	return conn.UnderlyingConn().SetReadDeadline(time.Now().Add(closeGrace))
}
