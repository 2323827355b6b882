package server

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mpdemo/protocol"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	joinTimeout  = 5 * time.Second
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws    *websocket.Conn
	codec protocol.Codec

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClientConn(ws *websocket.Conn, codec protocol.Codec) *ClientConn {
	return &ClientConn{
		ws:    ws,
		codec: codec,
		send:  make(chan []byte, 64),
	}
}

func (c *ClientConn) Codec() protocol.Codec { return c.codec }

// Enqueue 将要发送的消息压入队列（非阻塞）
// 队列满时返回 false：差分依赖前一帧，丢帧后客户端无法恢复，由房间踢出该会话
func (c *ClientConn) Enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close 关闭发送队列；写协程发完剩余消息后关闭底层连接
func (c *ClientConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
			if err := c.ws.WriteMessage(frame, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息，转换为 Input 注入房间
func (c *ClientConn) readPump(room *Room, sessionID string) {
	// 读泵退出时，通知房间在 Tick 线程中移除该玩家（断线与主动离开同一路径）
	defer room.RequestLeave(sessionID)
	c.ws.SetReadLimit(1 << 20) // 1MB
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		env, err := c.codec.Decode(payload)
		if err != nil {
			continue
		}
		switch env.T {
		case protocol.MsgPlayerUpdate:
			m, err := protocol.DecodePayload[protocol.PlayerUpdate](c.codec, env)
			if err != nil {
				continue
			}
			room.OnInput(MotionInput{SessionID: sessionID, Motion: m})
		case protocol.MsgPlayerReady:
			ready, err := protocol.DecodePayload[bool](c.codec, env)
			if err != nil {
				continue
			}
			room.OnInput(ReadyInput{SessionID: sessionID, Ready: ready})
		case protocol.MsgSetSkin:
			idx, err := protocol.DecodePayload[int](c.codec, env)
			if err != nil {
				continue
			}
			room.OnInput(SkinInput{SessionID: sessionID, Index: idx})
		case protocol.MsgLeave:
			return
		default:
			Log.Debugf("unknown message: room=%s session=%s type=%s", room.ID, sessionID, env.T)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：?room=1234 加入，?create=1 创建并加入，&codec=msgpack 选择二进制编码
func HandleWS(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		codec, err := protocol.CodecByName(q.Get("codec"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		code := q.Get("room")
		create := q.Get("create") != ""
		if code == "" && !create {
			http.Error(w, "missing room query", http.StatusBadRequest)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Log.Warnf("upgrade error: %v", err)
			return
		}
		client := NewClientConn(ws, codec)
		go client.writePump()

		room, err := resolveRoom(m, code, create)
		if err != nil {
			rejectConn(client, err)
			return
		}

		sessionID, err := newSessionID()
		if err != nil {
			rejectConn(client, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), joinTimeout)
		defer cancel()
		if err := room.RequestJoin(ctx, sessionID, client); err != nil {
			Log.Infof("join rejected: room=%s err=%v", room.ID, err)
			rejectConn(client, err)
			return
		}

		go client.readPump(room, sessionID)
	}
}

func resolveRoom(m *Manager, code string, create bool) (*Room, error) {
	if create {
		return m.CreateRoom()
	}
	room, ok := m.GetRoom(code)
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// rejectConn 发送错误通知后关闭连接
func rejectConn(c *ClientConn, err error) {
	b, encErr := c.codec.Encode(protocol.MsgError, protocol.Error{Code: ErrorCode(err), Message: err.Error()})
	if encErr == nil {
		c.Enqueue(b)
	}
	c.Close()
}

const sessionIDChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newSessionID 9 位随机会话标识
func newSessionID() (string, error) {
	b := make([]byte, 9)
	max := big.NewInt(int64(len(sessionIDChars)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = sessionIDChars[n.Int64()]
	}
	return string(b), nil
}
