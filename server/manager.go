package server

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// maxCodeAttempts 生成房间号时的重试上限；4 位房间号空间为 9000
const maxCodeAttempts = 64

// ManagerOptions 房间管理器参数
type ManagerOptions struct {
	EmptyRoomTTL time.Duration
	// NewCode 房间号生成器，默认 1000 + rand(0..8999)
	NewCode func() string
}

// RoomInfo 房间列表中的一项
type RoomInfo struct {
	Code    string `json:"code"`
	Players int    `json:"players"`
	Locked  bool   `json:"locked"`
}

// Manager 管理多个房间的生命周期：创建、按房间号查找、销毁后移除
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	opts  ManagerOptions
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.NewCode == nil {
		opts.NewCode = newRoomCode
	}
	return &Manager{rooms: make(map[string]*Room), opts: opts}
}

func newRoomCode() string {
	return strconv.Itoa(1000 + rand.IntN(9000))
}

// CreateRoom 分配一个未被占用的房间号，创建房间并启动 Tick
// 房间号冲突时重新生成，重试用尽返回 ErrRoomCodesExhausted
func (m *Manager) CreateRoom() (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < maxCodeAttempts; i++ {
		code := m.opts.NewCode()
		if _, exists := m.rooms[code]; exists {
			Log.Debugf("room code collision, regenerating: code=%s", code)
			continue
		}
		r := NewRoom(code, RoomOptions{
			EmptyTTL:  m.opts.EmptyRoomTTL,
			OnDispose: m.removeRoom,
		})
		m.rooms[code] = r
		r.StartTicker()
		Log.Infof("room created: room=%s", code)
		return r, nil
	}
	return nil, ErrRoomCodesExhausted
}

// GetRoom 按房间号查找
func (m *Manager) GetRoom(code string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[code]
	return r, ok
}

func (m *Manager) removeRoom(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, code)
}

// ListRooms 返回所有活跃房间，按房间号排序
func (m *Manager) ListRooms(ctx context.Context) []RoomInfo {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		v, err := r.Inspect(ctx)
		if err != nil {
			continue
		}
		out = append(out, RoomInfo{Code: v.Code, Players: len(v.Players), Locked: v.Locked})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Shutdown 停止所有房间并等待其退出
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	var err error
	for _, r := range rooms {
		r.Stop()
	}
	for _, r := range rooms {
		select {
		case <-r.Done():
		case <-ctx.Done():
			err = multierr.Append(err, fmt.Errorf("room %s did not stop: %w", r.ID, ctx.Err()))
		}
	}
	return err
}
