package client

import (
	"math"
	"time"

	"mpdemo/state"
)

// DefaultBlendRate 远端实体向目标靠拢的速率（每秒）
const DefaultBlendRate = 15.0

// Pose 远端实体当前的显示状态
type Pose struct {
	X, Y, Z  float64
	Yaw      float64
	AnimX    float64
	AnimY    float64
	Grounded bool
	Jumping  bool
}

// RemoteView 把离散的复制状态平滑为连续的显示状态。
// 位置与动画轴按指数混合，朝向走最短弧，落地/跳跃标记直接跟随
type RemoteView struct {
	rate     float64
	animRate float64
	pose     Pose
	init     bool
}

func NewRemoteView(rate, animRate float64) *RemoteView {
	if rate <= 0 {
		rate = DefaultBlendRate
	}
	if animRate <= 0 {
		animRate = DefaultBlendRate
	}
	return &RemoteView{rate: rate, animRate: animRate}
}

func (v *RemoteView) Pose() Pose { return v.pose }

// Step 推进一帧；第一次调用直接对齐目标
func (v *RemoteView) Step(target state.Player, dt time.Duration) Pose {
	if !v.init {
		v.init = true
		v.pose = Pose{
			X: target.X, Y: target.Y, Z: target.Z,
			Yaw:      normalizeDeg(target.RotationY),
			AnimX:    target.AnimInputX,
			AnimY:    target.AnimInputY,
			Grounded: target.IsGrounded,
			Jumping:  target.IsJumping,
		}
		return v.pose
	}
	k := blendFactor(v.rate, dt)
	ka := blendFactor(v.animRate, dt)

	v.pose.X = lerp(v.pose.X, target.X, k)
	v.pose.Y = lerp(v.pose.Y, target.Y, k)
	v.pose.Z = lerp(v.pose.Z, target.Z, k)
	v.pose.Yaw = normalizeDeg(v.pose.Yaw + shortestArc(v.pose.Yaw, target.RotationY)*k)
	v.pose.AnimX = lerp(v.pose.AnimX, target.AnimInputX, ka)
	v.pose.AnimY = lerp(v.pose.AnimY, target.AnimInputY, ka)
	v.pose.Grounded = target.IsGrounded
	v.pose.Jumping = target.IsJumping
	return v.pose
}

func blendFactor(rate float64, dt time.Duration) float64 {
	return math.Min(1, rate*dt.Seconds())
}

func lerp(a, b, k float64) float64 { return a + (b-a)*k }

// shortestArc 从 from 转到 to 的最短角度差，范围 [-180, 180]
func shortestArc(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}

func normalizeDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}
