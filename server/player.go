package server

import "mpdemo/protocol"

// Sink 房间向某个会话推送消息的出口（网络连接的发送端）
// Enqueue 不得阻塞 Tick，返回 false 表示队列已满或已关闭；Close 需幂等
type Sink interface {
	Enqueue(b []byte) bool
	Close()
	Codec() protocol.Codec
}

// member 已加入房间的会话；复制状态保存在 state.Container，这里只保存连接
type member struct {
	ID   string
	Conn Sink
}
