package protocol

import "mpdemo/state"

// 消息类型（信封中的 t 字段）
const (
	MsgPlayerUpdate = "playerUpdate"
	MsgPlayerReady  = "playerReady"
	MsgSetSkin      = "setSkin"
	MsgLeave        = "leave"

	MsgWelcome   = "welcome"
	MsgState     = "state"
	MsgStartGame = "startGame"
	MsgError     = "error"
)

const (
	// SimTickHz 房间权威 Tick 频率
	SimTickHz = 60
	// ClientSendHz 本地玩家上报频率上限
	ClientSendHz = 20
	// RoomCapacity 每个房间的最大人数
	RoomCapacity = 4
)

// 错误码（error 消息的 code 字段）
const (
	CodeCapacityExceeded = "capacity_exceeded"
	CodeRoomLocked       = "room_locked"
	CodeAlreadyMember    = "already_member"
	CodeRoomNotFound     = "room_not_found"
	CodeInternal         = "internal"
)

// PlayerUpdate 客户端 -> 服务端的运动上报
type PlayerUpdate = state.Motion

// Welcome 加入成功后服务端发送的第一条消息
type Welcome struct {
	SessionID string `json:"sessionId" msgpack:"sessionId"`
	RoomID    string `json:"roomId" msgpack:"roomId" jsonschema:"pattern=^[0-9]{4}$"`
	Capacity  int    `json:"capacity" msgpack:"capacity"`
	TickHz    int    `json:"tickHz" msgpack:"tickHz"`
}

// StateBatch 一次 Tick 边界产生的全部变更；Tick 同时作为每个字段的版本号
type StateBatch struct {
	Tick    uint64         `json:"tick" msgpack:"tick"`
	Changes []state.Change `json:"changes" msgpack:"changes"`
}

// Error 加入/创建失败时的错误通知
type Error struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}
