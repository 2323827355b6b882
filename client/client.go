package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"mpdemo/protocol"
)

// DefaultLeaveTimeout 离开通知的最长等待时间
const DefaultLeaveTimeout = 2 * time.Second

// Options 连接参数，零值使用 JSON 编码与 websocket 拨号
type Options struct {
	Codec        protocol.Codec
	Dialer       Dialer
	Log          *zap.SugaredLogger
	LeaveTimeout time.Duration
}

// Client 到某个服务端的连接句柄；进程内构造一次后注入 Gateway
type Client struct {
	endpoint     string
	codec        protocol.Codec
	dialer       Dialer
	log          *zap.SugaredLogger
	leaveTimeout time.Duration
}

// New endpoint 形如 ws://localhost:2567
func New(endpoint string, opts Options) *Client {
	if opts.Codec == nil {
		opts.Codec = protocol.JSON
	}
	if opts.Dialer == nil {
		opts.Dialer = wsDialer{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = DefaultLeaveTimeout
	}
	return &Client{
		endpoint:     strings.TrimSuffix(endpoint, "/"),
		codec:        opts.Codec,
		dialer:       opts.Dialer,
		log:          opts.Log,
		leaveTimeout: opts.LeaveTimeout,
	}
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) wsURL(q url.Values) string {
	if c.codec.Name() != protocol.JSON.Name() {
		q.Set("codec", c.codec.Name())
	}
	return c.endpoint + "/ws?" + q.Encode()
}

// connect 拨号并等待第一条消息：welcome 表示加入成功，error 映射为哨兵错误
func (c *Client) connect(ctx context.Context, q url.Values) (*Membership, error) {
	conn, err := c.dialer.Dial(ctx, c.wsURL(q), c.codec.Binary())
	if err != nil {
		return nil, transportErr("dial", err)
	}
	b, err := conn.Read(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, transportErr("read welcome", err)
	}
	env, err := c.codec.Decode(b)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("decode welcome: %w", err)
	}
	switch env.T {
	case protocol.MsgWelcome:
		w, err := protocol.DecodePayload[protocol.Welcome](c.codec, env)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("decode welcome: %w", err)
		}
		return newMembership(conn, c.codec, w, c.log), nil
	case protocol.MsgError:
		_ = conn.Close()
		e, err := protocol.DecodePayload[protocol.Error](c.codec, env)
		if err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		return nil, errorFromWire(e)
	}
	_ = conn.Close()
	return nil, fmt.Errorf("unexpected first message %q", env.T)
}
