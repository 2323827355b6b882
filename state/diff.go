package state

import "math"

// Op 状态变更类型
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpPatch  Op = "patch"
)

// Change 单个实体的变更事件，按 sessionId 寻址
type Change struct {
	Op        Op            `json:"op" msgpack:"op"`
	SessionID string        `json:"id" msgpack:"id"`
	Player    *Player       `json:"player,omitempty" msgpack:"player,omitempty"`
	Fields    map[Field]any `json:"fields,omitempty" msgpack:"fields,omitempty"`
}

// Diff 计算两次快照之间的变更：先按旧顺序输出 remove，再按新顺序输出 add / patch。
// 结果只依赖两次快照的内容，同样的输入总是得到同样的输出
func Diff(prev, next Snapshot) []Change {
	var changes []Change
	for _, id := range prev.Order {
		if _, ok := next.Players[id]; !ok {
			changes = append(changes, Change{Op: OpRemove, SessionID: id})
		}
	}
	for _, id := range next.Order {
		cur := next.Players[id]
		old, ok := prev.Players[id]
		if !ok {
			p := cur
			changes = append(changes, Change{Op: OpAdd, SessionID: id, Player: &p})
			continue
		}
		if fields := diffFields(&old, &cur); len(fields) > 0 {
			changes = append(changes, Change{Op: OpPatch, SessionID: id, Fields: fields})
		}
	}
	return changes
}

// Adds 把整份快照表示为 add 事件，用于新加入者的初始同步
func Adds(s Snapshot) []Change {
	changes := make([]Change, 0, s.Len())
	for _, id := range s.Order {
		p := s.Players[id]
		changes = append(changes, Change{Op: OpAdd, SessionID: id, Player: &p})
	}
	return changes
}

func diffFields(old, cur *Player) map[Field]any {
	var out map[Field]any
	for _, f := range Fields {
		v := cur.Get(f)
		if sameValue(old.Get(f), v) {
			continue
		}
		if out == nil {
			out = make(map[Field]any)
		}
		out[f] = v
	}
	return out
}

// sameValue NaN 视为与 NaN 相等，否则同一个 NaN 每个 Tick 都会产生 patch
func sameValue(a, b any) bool {
	if a == b {
		return true
	}
	x, ok1 := a.(float64)
	y, ok2 := b.(float64)
	return ok1 && ok2 && math.IsNaN(x) && math.IsNaN(y)
}

// Finite 返回把 NaN / ±Inf 替换为 0 的副本，供无法表示它们的编码（JSON）使用；
// 第二个返回值表示是否发生了替换。原切片不被修改
func Finite(changes []Change) ([]Change, bool) {
	out := make([]Change, len(changes))
	replaced := false
	for i, c := range changes {
		out[i] = c
		if c.Player != nil {
			p := *c.Player
			for _, f := range Fields {
				if v, ok := p.Get(f).(float64); ok && !isFinite(v) {
					p.Set(f, 0.0)
					replaced = true
				}
			}
			out[i].Player = &p
		}
		if c.Fields != nil {
			fields := make(map[Field]any, len(c.Fields))
			for f, v := range c.Fields {
				if n, ok := v.(float64); ok && !isFinite(n) {
					v = 0.0
					replaced = true
				}
				fields[f] = v
			}
			out[i].Fields = fields
		}
	}
	return out, replaced
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
