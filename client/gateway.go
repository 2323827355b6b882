package client

import (
	"context"
	"net/url"
	"sync"
)

// Gateway 会话入口：创建、加入、离开房间。同一时刻最多持有一个底层连接
type Gateway struct {
	client *Client

	mu           sync.Mutex
	joining      bool
	joinDone     chan struct{}
	cancelJoin   context.CancelFunc
	leavePending bool
	member       *Membership
	// leaving 离开超时后仍在关闭的连接，新的加入须等它释放
	leaving *Membership
	skin    int
}

func NewGateway(c *Client) *Gateway {
	return &Gateway{client: c}
}

// CreateGame 创建新房间并加入
func (g *Gateway) CreateGame(ctx context.Context) (*Membership, error) {
	return g.enter(ctx, url.Values{"create": {"1"}})
}

// JoinGame 按房间号加入
func (g *Gateway) JoinGame(ctx context.Context, code string) (*Membership, error) {
	return g.enter(ctx, url.Values{"room": {code}})
}

func (g *Gateway) enter(ctx context.Context, q url.Values) (*Membership, error) {
	g.mu.Lock()
	if g.joining || (g.member != nil && !g.member.Closed()) {
		g.mu.Unlock()
		return nil, ErrAlreadyMember
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.joining = true
	g.leavePending = false
	g.cancelJoin = cancel
	g.joinDone = make(chan struct{})
	stale, leaving := g.member, g.leaving
	g.member = nil
	g.mu.Unlock()
	if stale != nil {
		_ = stale.Close()
	}

	m, err := g.dial(ctx, q, leaving)

	// 判断待处理的离开与发布成员关系在同一临界区内完成，避免离开请求落空
	g.mu.Lock()
	pending := g.leavePending
	if !pending {
		if err == nil {
			g.member = m
		}
		g.finishJoinLocked()
	}
	skin := g.skin
	g.mu.Unlock()

	if pending {
		if m != nil {
			g.leave(context.Background(), m)
		}
		g.mu.Lock()
		g.finishJoinLocked()
		g.mu.Unlock()
		g.client.log.Infof("join canceled by leave: query=%s", q.Encode())
		return nil, ErrJoinCanceled
	}
	if err != nil {
		g.client.log.Infof("enter room failed: query=%s err=%v", q.Encode(), err)
		return nil, err
	}

	g.client.log.Infof("joined room: room=%s session=%s", m.RoomID(), m.SessionID())
	// 加入后立即同步本地选择的皮肤
	if skin != 0 {
		if err := m.SetSkin(ctx, skin); err != nil {
			g.client.log.Warnf("sync skin: room=%s err=%v", m.RoomID(), err)
		}
	}
	return m, nil
}

// dial 先等上一个连接释放，再建立新连接
func (g *Gateway) dial(ctx context.Context, q url.Values, leaving *Membership) (*Membership, error) {
	if leaving != nil {
		select {
		case <-leaving.Released():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		g.mu.Lock()
		if g.leaving == leaving {
			g.leaving = nil
		}
		g.mu.Unlock()
	}
	return g.client.connect(ctx, q)
}

func (g *Gateway) finishJoinLocked() {
	g.joining = false
	g.leavePending = false
	g.cancelJoin = nil
	close(g.joinDone)
}

// LeaveGame 尽力通知服务端离开，最长等待 LeaveTimeout；本地状态总是清空
// 加入尚未完成时取消该次加入，并等待其结束
func (g *Gateway) LeaveGame(ctx context.Context) {
	g.mu.Lock()
	if g.joining {
		g.leavePending = true
		g.cancelJoin()
		done := g.joinDone
		g.mu.Unlock()

		ctx, cancel := context.WithTimeout(ctx, g.client.leaveTimeout)
		defer cancel()
		select {
		case <-done:
		case <-ctx.Done():
			g.client.log.Warnf("leave during join: err=%v", ctx.Err())
		}
		return
	}
	m := g.member
	g.member = nil
	g.mu.Unlock()
	if m == nil {
		return
	}
	g.leave(ctx, m)
}

func (g *Gateway) leave(ctx context.Context, m *Membership) {
	ctx, cancel := context.WithTimeout(ctx, g.client.leaveTimeout)
	defer cancel()
	if err := m.Leave(ctx); err != nil {
		g.mu.Lock()
		g.leaving = m
		g.mu.Unlock()
		g.client.log.Warnf("leave room: room=%s session=%s err=%v", m.RoomID(), m.SessionID(), err)
		return
	}
	g.client.log.Infof("left room: room=%s session=%s", m.RoomID(), m.SessionID())
}

// Membership 当前成员关系，未加入时为 nil
func (g *Gateway) Membership() *Membership {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.member
}

// SetReady 发送准备状态
func (g *Gateway) SetReady(ctx context.Context, ready bool) error {
	m := g.Membership()
	if m == nil {
		return ErrNotMember
	}
	return m.SetReady(ctx, ready)
}

// SetSkin 记录本地皮肤选择；已在房间内时立即同步
func (g *Gateway) SetSkin(ctx context.Context, index int) error {
	g.mu.Lock()
	g.skin = index
	m := g.member
	g.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.SetSkin(ctx, index)
}

func (g *Gateway) Skin() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.skin
}
