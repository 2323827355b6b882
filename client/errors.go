package client

import (
	"errors"
	"fmt"

	"mpdemo/protocol"
)

var (
	ErrCapacityExceeded = errors.New("room is full")
	ErrRoomLocked       = errors.New("room is locked")
	ErrAlreadyMember    = errors.New("already a member of a room")
	ErrRoomNotFound     = errors.New("room not found")
	ErrNotMember        = errors.New("not in a room")
	// ErrJoinCanceled 加入过程中收到离开请求，已建立的连接随即关闭
	ErrJoinCanceled = errors.New("join canceled by leave")
	// ErrTransport 包装拨号、读写过程中的底层错误
	ErrTransport = errors.New("transport error")
)

// errorFromWire 把服务端 error 消息映射回哨兵错误
func errorFromWire(e protocol.Error) error {
	var base error
	switch e.Code {
	case protocol.CodeCapacityExceeded:
		base = ErrCapacityExceeded
	case protocol.CodeRoomLocked:
		base = ErrRoomLocked
	case protocol.CodeAlreadyMember:
		base = ErrAlreadyMember
	case protocol.CodeRoomNotFound:
		base = ErrRoomNotFound
	default:
		return fmt.Errorf("server error %s: %s", e.Code, e.Message)
	}
	return fmt.Errorf("%w: %s", base, e.Message)
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
