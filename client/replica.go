package client

import (
	"fmt"

	"mpdemo/protocol"
	"mpdemo/state"
)

type replicaEntry struct {
	player   state.Player
	addedAt  uint64
	versions map[state.Field]uint64
}

// Replica 客户端的房间状态副本。每个字段记录最后一次写入的 tick，
// 旧于当前版本的写入（乱序或重复的批次）被忽略；移除留下墓碑防止旧的 add 复活实体
type Replica struct {
	localID  string
	roomID   string
	capacity int

	order      []string
	entries    map[string]*replicaEntry
	tombstones map[string]uint64
	lastTick   uint64
	started    bool
}

func NewReplica(w protocol.Welcome) *Replica {
	capacity := w.Capacity
	if capacity <= 0 {
		capacity = protocol.RoomCapacity
	}
	return &Replica{
		localID:    w.SessionID,
		roomID:     w.RoomID,
		capacity:   capacity,
		entries:    make(map[string]*replicaEntry),
		tombstones: make(map[string]uint64),
	}
}

// ApplyResult 一个批次带来的成员变化
type ApplyResult struct {
	Added   []string
	Removed []string
}

// Apply 按顺序应用一个批次
func (r *Replica) Apply(b protocol.StateBatch) ApplyResult {
	var res ApplyResult
	if b.Tick > r.lastTick {
		r.lastTick = b.Tick
	}
	for _, ch := range b.Changes {
		switch ch.Op {
		case state.OpAdd:
			if ch.Player != nil && r.add(ch.SessionID, *ch.Player, b.Tick) {
				res.Added = append(res.Added, ch.SessionID)
			}
		case state.OpRemove:
			if r.remove(ch.SessionID, b.Tick) {
				res.Removed = append(res.Removed, ch.SessionID)
			}
		case state.OpPatch:
			r.patch(ch.SessionID, ch.Fields, b.Tick)
		}
	}
	return res
}

func (r *Replica) add(id string, p state.Player, tick uint64) bool {
	if t, ok := r.tombstones[id]; ok && t >= tick {
		return false
	}
	delete(r.tombstones, id)
	p.SessionID = id
	if e, ok := r.entries[id]; ok {
		// 已存在：视为对全部字段的一次写入
		for _, f := range state.Fields {
			if e.versions[f] < tick {
				e.player.Set(f, p.Get(f))
				e.versions[f] = tick
			}
		}
		return false
	}
	e := &replicaEntry{player: p, addedAt: tick, versions: make(map[state.Field]uint64, len(state.Fields))}
	for _, f := range state.Fields {
		e.versions[f] = tick
	}
	r.entries[id] = e
	r.order = append(r.order, id)
	return true
}

func (r *Replica) remove(id string, tick uint64) bool {
	if t := r.tombstones[id]; tick > t {
		r.tombstones[id] = tick
	}
	e, ok := r.entries[id]
	if !ok || e.addedAt > tick {
		return false
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Replica) patch(id string, fields map[state.Field]any, tick uint64) {
	e, ok := r.entries[id]
	if !ok {
		return
	}
	for f, v := range fields {
		if e.versions[f] >= tick {
			continue
		}
		if e.player.Set(f, v) {
			e.versions[f] = tick
		}
	}
}

// MarkStarted 收到 startGame
func (r *Replica) MarkStarted() { r.started = true }

func (r *Replica) Started() bool    { return r.started }
func (r *Replica) LocalID() string  { return r.localID }
func (r *Replica) RoomID() string   { return r.roomID }
func (r *Replica) LastTick() uint64 { return r.lastTick }
func (r *Replica) Len() int         { return len(r.order) }

// Player 读取实体副本
func (r *Replica) Player(id string) (state.Player, bool) {
	e, ok := r.entries[id]
	if !ok {
		return state.Player{}, false
	}
	return e.player, true
}

// Version 字段的最后写入 tick；实体不存在时为 0
func (r *Replica) Version(id string, f state.Field) uint64 {
	if e, ok := r.entries[id]; ok {
		return e.versions[f]
	}
	return 0
}

// Each 按加入顺序遍历
func (r *Replica) Each(fn func(p state.Player) bool) {
	for _, id := range r.order {
		if !fn(r.entries[id].player) {
			return
		}
	}
}

// RosterLine 大厅名单中的一行
type RosterLine struct {
	SessionID string
	IsReady   bool
	IsLocal   bool
	SkinIndex int
}

// Roster 按加入顺序返回名单
func (r *Replica) Roster() []RosterLine {
	out := make([]RosterLine, 0, len(r.order))
	r.Each(func(p state.Player) bool {
		out = append(out, RosterLine{
			SessionID: p.SessionID,
			IsReady:   p.IsReady,
			IsLocal:   p.SessionID == r.localID,
			SkinIndex: p.SkinIndex,
		})
		return true
	})
	return out
}

// PlayerCount 形如 "2/4"
func (r *Replica) PlayerCount() string {
	return fmt.Sprintf("%d/%d", len(r.order), r.capacity)
}
