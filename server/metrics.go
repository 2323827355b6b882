package server

import (
	"sync/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount         int64 // 统计的 Tick 次数
	MessagesAccepted  int64 // 已应用的客户端消息数
	StaleIgnored      int64 // 会话已不在房间而被忽略的消息数
	JoinsRejected     int64 // 因满员或锁定被拒绝的加入
	ChanFullDiscarded int64 // 因收件箱满被丢弃的消息数
	SlowDropped       int64 // 发送队列满被踢出的会话数
	EncodeFallbacks   int64 // 编码失败后改用有限值重编码的批次数
	ChangesBroadcast  int64 // 广播出去的 add/remove/patch 数
	BytesBroadcast    int64 // 入队的广播字节数
	TotalTickNs       int64 // Tick 累计耗时（纳秒）
}

func (m *RoomMetrics) IncAccepted()          { atomic.AddInt64(&m.MessagesAccepted, 1) }
func (m *RoomMetrics) IncStale()             { atomic.AddInt64(&m.StaleIgnored, 1) }
func (m *RoomMetrics) IncJoinsRejected()     { atomic.AddInt64(&m.JoinsRejected, 1) }
func (m *RoomMetrics) IncChanFullDiscarded() { atomic.AddInt64(&m.ChanFullDiscarded, 1) }
func (m *RoomMetrics) IncSlowDropped()       { atomic.AddInt64(&m.SlowDropped, 1) }
func (m *RoomMetrics) IncEncodeFallback()    { atomic.AddInt64(&m.EncodeFallbacks, 1) }
func (m *RoomMetrics) AddChanges(n int)      { atomic.AddInt64(&m.ChangesBroadcast, int64(n)) }
func (m *RoomMetrics) AddBytes(n int)        { atomic.AddInt64(&m.BytesBroadcast, int64(n)) }
func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":          tick,
		"messages_accepted":   atomic.LoadInt64(&m.MessagesAccepted),
		"stale_ignored":       atomic.LoadInt64(&m.StaleIgnored),
		"joins_rejected":      atomic.LoadInt64(&m.JoinsRejected),
		"chan_full_discarded": atomic.LoadInt64(&m.ChanFullDiscarded),
		"slow_dropped":        atomic.LoadInt64(&m.SlowDropped),
		"encode_fallbacks":    atomic.LoadInt64(&m.EncodeFallbacks),
		"changes_broadcast":   atomic.LoadInt64(&m.ChangesBroadcast),
		"bytes_broadcast":     atomic.LoadInt64(&m.BytesBroadcast),
		"avg_tick_ms":         avgMs,
	}
}
