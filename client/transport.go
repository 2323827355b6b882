package client

import (
	"context"
	"errors"
	"net"

	"github.com/coder/websocket"
)

// Conn 客户端一侧的一条复制通道，每帧一条完整的信封
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, b []byte) error
	Close() error
}

// Dialer 建立 Conn；测试中替换为内存实现
type Dialer interface {
	Dial(ctx context.Context, url string, binary bool) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string, binary bool) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(1 << 20)
	typ := websocket.MessageText
	if binary {
		typ = websocket.MessageBinary
	}
	return &wsConn{c: c, typ: typ}, nil
}

type wsConn struct {
	c   *websocket.Conn
	typ websocket.MessageType
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, b, err := w.c.Read(ctx)
	return b, err
}

func (w *wsConn) Write(ctx context.Context, b []byte) error {
	return w.c.Write(ctx, w.typ, b)
}

// Close 对端已经关闭时不算错误
func (w *wsConn) Close() error {
	err := w.c.Close(websocket.StatusNormalClosure, "bye")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
