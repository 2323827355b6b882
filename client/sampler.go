package client

import (
	"time"

	"mpdemo/protocol"
	"mpdemo/state"
)

// Sampler 本地玩家每帧采样，按固定频率上报。
// 两次上报之间按下的跳跃会被锁存，随下一次上报发出后清除
type Sampler struct {
	interval   time.Duration
	until      time.Duration
	jumpQueued bool
}

func NewSampler(hz int) *Sampler {
	if hz <= 0 {
		hz = protocol.ClientSendHz
	}
	return &Sampler{interval: time.Second / time.Duration(hz)}
}

// Sample 返回本帧是否需要上报以及上报内容；第一帧立即上报
func (s *Sampler) Sample(dt time.Duration, m state.Motion, jumpPressed bool) (protocol.PlayerUpdate, bool) {
	if jumpPressed {
		s.jumpQueued = true
	}
	s.until -= dt
	if s.until > 0 {
		return protocol.PlayerUpdate{}, false
	}
	m.IsJumping = s.jumpQueued
	s.jumpQueued = false
	s.until = s.interval
	return m, true
}
