package server

import "mpdemo/state"

// Input 进入房间收件箱的命令。全部在 Tick 协程中按到达顺序处理
type Input interface{ isInput() }

// JoinInput 加入请求，处理结果写入 Reply（需带缓冲）
type JoinInput struct {
	SessionID string
	Conn      Sink
	Reply     chan<- error
}

// LeaveInput 离开或断线
type LeaveInput struct {
	SessionID string
}

// MotionInput playerUpdate
type MotionInput struct {
	SessionID string
	Motion    state.Motion
}

// ReadyInput playerReady
type ReadyInput struct {
	SessionID string
	Ready     bool
}

// SkinInput setSkin
type SkinInput struct {
	SessionID string
	Index     int
}

// UnlockInput 管理接口的显式解锁
type UnlockInput struct {
	Reply chan<- bool
}

// InspectInput 读取房间视图，避免在 Tick 协程之外读状态
type InspectInput struct {
	Reply chan<- RoomView
}

func (JoinInput) isInput()    {}
func (LeaveInput) isInput()   {}
func (MotionInput) isInput()  {}
func (ReadyInput) isInput()   {}
func (SkinInput) isInput()    {}
func (UnlockInput) isInput()  {}
func (InspectInput) isInput() {}

// RosterEntry 名单中的一行
type RosterEntry struct {
	SessionID string `json:"sessionId"`
	IsReady   bool   `json:"isReady"`
	SkinIndex int    `json:"skinIndex"`
}

// RoomView 房间只读视图（管理接口 / 测试使用）
type RoomView struct {
	Code     string        `json:"code"`
	Capacity int           `json:"capacity"`
	Locked   bool          `json:"locked"`
	Phase    string        `json:"phase"`
	Tick     uint64        `json:"tick"`
	Players  []RosterEntry `json:"players"`
}
