package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mpdemo/protocol"
	"mpdemo/state"
)

// Channel 帧循环依赖的复制通道（*Membership 满足）
type Channel interface {
	Drain() []Event
	SendMotion(ctx context.Context, u protocol.PlayerUpdate) error
}

// SessionOptions 帧循环参数，零值使用默认值
type SessionOptions struct {
	BlendRate     float64
	AnimBlendRate float64
	SendHz        int
	Log           *zap.SugaredLogger
}

// FrameInput 本地玩家本帧的采样
type FrameInput struct {
	Motion      state.Motion
	JumpPressed bool
}

// FrameResult 本帧观察到的变化
type FrameResult struct {
	Added   []string
	Removed []string
	// Started 本帧收到 startGame
	Started bool
	// Closed 非 nil 表示连接已断开
	Closed error
	Sent   bool
}

// Session 客户端帧循环：帧开始时应用缓冲的网络事件，再平滑远端实体并按频率上报本地状态
type Session struct {
	ch      Channel
	replica *Replica
	sampler *Sampler
	views   map[string]*RemoteView
	poses   map[string]Pose
	opts    SessionOptions
	log     *zap.SugaredLogger
}

func NewSession(ch Channel, w protocol.Welcome, opts SessionOptions) *Session {
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	return &Session{
		ch:      ch,
		replica: NewReplica(w),
		sampler: NewSampler(opts.SendHz),
		views:   make(map[string]*RemoteView),
		poses:   make(map[string]Pose),
		opts:    opts,
		log:     opts.Log,
	}
}

// NewMembershipSession 用已加入的 Membership 构造帧循环
func NewMembershipSession(m *Membership, opts SessionOptions) *Session {
	return NewSession(m, m.Welcome(), opts)
}

func (s *Session) Replica() *Replica { return s.replica }

// Pose 远端实体的显示状态；本地实体不做平滑
func (s *Session) Pose(id string) (Pose, bool) {
	p, ok := s.poses[id]
	return p, ok
}

// Frame 推进一帧
func (s *Session) Frame(ctx context.Context, dt time.Duration, in FrameInput) (FrameResult, error) {
	var res FrameResult
	for _, ev := range s.ch.Drain() {
		switch ev.Kind {
		case EventState:
			r := s.replica.Apply(ev.Batch)
			res.Added = append(res.Added, r.Added...)
			res.Removed = append(res.Removed, r.Removed...)
		case EventStartGame:
			if !s.replica.Started() {
				s.log.Infof("game started: room=%s players=%s", s.replica.RoomID(), s.replica.PlayerCount())
			}
			s.replica.MarkStarted()
			res.Started = true
		case EventClosed:
			res.Closed = ev.Err
		}
	}
	for _, id := range res.Removed {
		delete(s.views, id)
		delete(s.poses, id)
	}

	local := s.replica.LocalID()
	s.replica.Each(func(p state.Player) bool {
		if p.SessionID == local {
			return true
		}
		v, ok := s.views[p.SessionID]
		if !ok {
			v = NewRemoteView(s.opts.BlendRate, s.opts.AnimBlendRate)
			s.views[p.SessionID] = v
		}
		s.poses[p.SessionID] = v.Step(p, dt)
		return true
	})

	if res.Closed != nil {
		return res, nil
	}
	if u, ok := s.sampler.Sample(dt, in.Motion, in.JumpPressed); ok {
		if err := s.ch.SendMotion(ctx, u); err != nil {
			return res, err
		}
		res.Sent = true
	}
	return res, nil
}
