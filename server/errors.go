package server

import (
	"errors"

	"mpdemo/protocol"
)

// 加入/创建失败的错误分类；陈旧消息不是错误，在房间边界被静默吸收
var (
	ErrCapacityExceeded   = errors.New("room is full")
	ErrRoomLocked         = errors.New("room is locked")
	ErrAlreadyMember      = errors.New("session already joined")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomClosed         = errors.New("room disposed")
	ErrRoomCodesExhausted = errors.New("no free room code")
)

// ErrorCode 把错误映射到线上错误码
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return protocol.CodeCapacityExceeded
	case errors.Is(err, ErrRoomLocked):
		return protocol.CodeRoomLocked
	case errors.Is(err, ErrAlreadyMember):
		return protocol.CodeAlreadyMember
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrRoomClosed):
		return protocol.CodeRoomNotFound
	}
	return protocol.CodeInternal
}
