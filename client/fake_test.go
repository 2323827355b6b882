package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"mpdemo/protocol"
)

var errFakeClosed = errors.New("fake conn closed")

// fakeConn 内存连接：in 中的帧依次被 Read 返回，Write 记录发出的帧
type fakeConn struct {
	in          chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
	blockWrites bool
	// holdClose 非 nil 时 Close 阻塞到它被关闭，模拟缓慢的关闭握手
	holdClose chan struct{}

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case <-f.closed:
		return nil, errFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, b []byte) error {
	if f.blockWrites {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	f.mu.Lock()
	f.written = append(f.written, b)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	if f.holdClose != nil {
		<-f.holdClose
	}
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) push(t *testing.T, typ string, payload any) {
	t.Helper()
	b, err := protocol.JSON.Encode(typ, payload)
	require.NoError(t, err)
	f.in <- b
}

func (f *fakeConn) sent(t *testing.T) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(f.written))
	for _, b := range f.written {
		env, err := protocol.JSON.Decode(b)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

// fakeDialer 按顺序交出预先准备的连接
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
	err   error
	// gate 非 nil 时拨号在记录 URL 后等待它关闭，且不理会 ctx
	gate chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string, binary bool) (Conn, error) {
	d.mu.Lock()
	gate := d.gate
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no fake connection prepared")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func welcomeConn(t *testing.T, session, room string) *fakeConn {
	c := newFakeConn()
	c.push(t, protocol.MsgWelcome, protocol.Welcome{SessionID: session, RoomID: room, Capacity: 4, TickHz: 60})
	return c
}
