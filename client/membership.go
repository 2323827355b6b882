package client

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mpdemo/protocol"
)

// EventKind 读协程缓冲的事件类型
type EventKind int

const (
	EventState EventKind = iota
	EventStartGame
	// EventClosed 连接已断开，Err 为断开原因
	EventClosed
)

// Event 网络事件；只在帧开始时由 Drain 取出
type Event struct {
	Kind  EventKind
	Batch protocol.StateBatch
	Err   error
}

// Membership 一次加入房间的作用域：持有唯一的连接与事件订阅，Close 只执行一次
type Membership struct {
	conn    Conn
	codec   protocol.Codec
	welcome protocol.Welcome
	log     *zap.SugaredLogger

	mu     sync.Mutex
	events []Event

	cancel    context.CancelFunc
	done      chan struct{}
	released  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newMembership(conn Conn, codec protocol.Codec, w protocol.Welcome, log *zap.SugaredLogger) *Membership {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Membership{
		conn:     conn,
		codec:    codec,
		welcome:  w,
		log:      log,
		cancel:   cancel,
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}
	go m.readLoop(ctx)
	return m
}

func (m *Membership) Welcome() protocol.Welcome { return m.welcome }
func (m *Membership) SessionID() string         { return m.welcome.SessionID }
func (m *Membership) RoomID() string            { return m.welcome.RoomID }

// Done 读协程退出后关闭
func (m *Membership) Done() <-chan struct{} { return m.done }

// Released Close 执行完毕（底层连接已关闭）后关闭
func (m *Membership) Released() <-chan struct{} { return m.released }

func (m *Membership) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Membership) readLoop(ctx context.Context) {
	defer close(m.done)
	for {
		b, err := m.conn.Read(ctx)
		if err != nil {
			m.push(Event{Kind: EventClosed, Err: transportErr("read", err)})
			return
		}
		env, err := m.codec.Decode(b)
		if err != nil {
			m.log.Debugf("drop undecodable frame: room=%s err=%v", m.welcome.RoomID, err)
			continue
		}
		switch env.T {
		case protocol.MsgState:
			batch, err := protocol.DecodePayload[protocol.StateBatch](m.codec, env)
			if err != nil {
				m.log.Warnf("decode state: room=%s err=%v", m.welcome.RoomID, err)
				continue
			}
			m.push(Event{Kind: EventState, Batch: batch})
		case protocol.MsgStartGame:
			m.push(Event{Kind: EventStartGame})
		default:
			m.log.Debugf("unhandled message: room=%s type=%s", m.welcome.RoomID, env.T)
		}
	}
}

func (m *Membership) push(e Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

// Drain 取出目前缓冲的全部事件（按到达顺序）
func (m *Membership) Drain() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.events
	m.events = nil
	return out
}

// Send 发送一条意图消息；payload 可为 nil
func (m *Membership) Send(ctx context.Context, t string, payload any) error {
	b, err := m.codec.Encode(t, payload)
	if err != nil {
		return err
	}
	if err := m.conn.Write(ctx, b); err != nil {
		return transportErr("write "+t, err)
	}
	return nil
}

func (m *Membership) SetReady(ctx context.Context, ready bool) error {
	return m.Send(ctx, protocol.MsgPlayerReady, ready)
}

func (m *Membership) SetSkin(ctx context.Context, index int) error {
	return m.Send(ctx, protocol.MsgSetSkin, index)
}

func (m *Membership) SendMotion(ctx context.Context, u protocol.PlayerUpdate) error {
	return m.Send(ctx, protocol.MsgPlayerUpdate, u)
}

// Leave 尽力通知服务端后关闭；ctx 到期即返回，关闭在后台继续
func (m *Membership) Leave(ctx context.Context) error {
	err := m.Send(ctx, protocol.MsgLeave, nil)
	closed := make(chan error, 1)
	go func() { closed <- m.Close() }()
	select {
	case cerr := <-closed:
		return multierr.Append(err, cerr)
	case <-ctx.Done():
		return multierr.Append(err, ctx.Err())
	}
}

// Close 关闭连接并结束订阅，可重复调用
func (m *Membership) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.conn.Close()
		m.cancel()
		<-m.done
		close(m.released)
	})
	return m.closeErr
}
