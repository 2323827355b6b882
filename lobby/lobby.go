// Package lobby 实现房间的准备/锁定状态机。
//
// 状态：Empty -> Waiting -> AllReady -> Locked，任一玩家离开时 Locked -> Waiting。
// 解锁时不会清除其余玩家的 ready 标记，留下的玩家保持已准备状态。
// 全员准备只在收到 ready 更新后判定，startGame 在每条“全员准备”边沿上最多触发一次。
package lobby

import "mpdemo/state"

// Phase 大厅阶段
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseWaiting
	PhaseAllReady
	PhaseLocked
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseWaiting:
		return "waiting"
	case PhaseAllReady:
		return "all_ready"
	case PhaseLocked:
		return "locked"
	}
	return "unknown"
}

// Roster 状态机需要的只读视图（*state.Container 与 state.Snapshot 都满足）
type Roster interface {
	Len() int
	Each(fn func(*state.Player) bool)
}

// AllReady 容器非空且每个实体都已准备
func AllReady(r Roster) bool {
	if r.Len() == 0 {
		return false
	}
	all := true
	r.Each(func(p *state.Player) bool {
		if !p.IsReady {
			all = false
		}
		return all
	})
	return all
}

// Machine 单个房间的大厅状态机，零值即为未锁定
type Machine struct {
	locked bool
	starts int
}

func (m *Machine) Locked() bool { return m.locked }

// Starts 已触发 startGame 的次数
func (m *Machine) Starts() int { return m.starts }

// Phase 根据当前名单推导阶段
func (m *Machine) Phase(r Roster) Phase {
	switch {
	case m.locked:
		return PhaseLocked
	case r.Len() == 0:
		return PhaseEmpty
	case AllReady(r):
		return PhaseAllReady
	default:
		return PhaseWaiting
	}
}

// OnReadyChanged 每次 ready 更新后调用；返回 true 表示刚刚进入 Locked，需要广播 startGame
func (m *Machine) OnReadyChanged(r Roster) bool {
	if m.locked || !AllReady(r) {
		return false
	}
	m.locked = true
	m.starts++
	return true
}

// OnLeave 任一玩家离开都会重新开放房间；返回离开前是否处于锁定
func (m *Machine) OnLeave() bool {
	return m.Unlock()
}

// Unlock 显式解锁
func (m *Machine) Unlock() bool {
	was := m.locked
	m.locked = false
	return was
}
