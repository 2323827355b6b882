package server

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"mpdemo/lobby"
	"mpdemo/protocol"
	"mpdemo/state"
)

// RoomOptions 房间创建参数，零值使用默认配置
type RoomOptions struct {
	Capacity int
	TickHz   int
	// EmptyTTL 创建后无人加入时的存活时间
	EmptyTTL time.Duration
	// Rand 出生点随机源，测试时注入固定种子
	Rand      *rand.Rand
	OnDispose func(code string)
}

const defaultEmptyTTL = 30 * time.Second

// Room 房间世界：权威状态维护在内存，单线程 Tick 推进
// 除 OnInput / RequestJoin / RequestLeave / Inspect / Unlock 外，所有方法只能在 Tick 协程中调用
type Room struct {
	ID string

	capacity int
	state    *state.Container
	lobby    lobby.Machine
	members  map[string]*member
	inbox    chan Input

	tickSeq      uint64
	clock        time.Duration
	tickInterval time.Duration
	prev         state.Snapshot
	prevTick     uint64
	events       []string
	slow         []string

	rng        *rand.Rand
	emptyTTL   time.Duration
	hadMembers bool
	disposed   bool
	onDispose  func(string)

	metrics *RoomMetrics

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// NewRoom 创建房间，初始化数据结构（不启动 Tick）
func NewRoom(id string, opts RoomOptions) *Room {
	if opts.Capacity <= 0 {
		opts.Capacity = protocol.RoomCapacity
	}
	if opts.TickHz <= 0 {
		opts.TickHz = protocol.SimTickHz
	}
	if opts.EmptyTTL <= 0 {
		opts.EmptyTTL = defaultEmptyTTL
	}
	return &Room{
		ID:           id,
		capacity:     opts.Capacity,
		state:        state.NewContainer(),
		members:      make(map[string]*member),
		inbox:        make(chan Input, 256), // 足够缓冲，避免网络读阻塞影响 Tick
		tickInterval: time.Second / time.Duration(opts.TickHz),
		prev:         state.NewContainer().Snapshot(),
		rng:          opts.Rand,
		emptyTTL:     opts.EmptyTTL,
		onDispose:    opts.OnDispose,
		metrics:      &RoomMetrics{},
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (r *Room) Metrics() *RoomMetrics { return r.metrics }

// Done 房间销毁后关闭
func (r *Room) Done() <-chan struct{} { return r.done }

// OnInput 入站消息（不立即改变状态），等下一次 Tick 处理
// 收件箱满时丢弃并计数，保证 Tick 准时；返回是否入队
func (r *Room) OnInput(in Input) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.inbox <- in:
		return true
	default:
		r.metrics.IncChanFullDiscarded()
		return false
	}
}

// RequestJoin 在 Tick 协程中执行加入并等待结果
func (r *Room) RequestJoin(ctx context.Context, sessionID string, conn Sink) error {
	reply := make(chan error, 1)
	select {
	case r.inbox <- JoinInput{SessionID: sessionID, Conn: conn, Reply: reply}:
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		// 加入可能已经生效，补一个离开；离开是幂等的
		r.RequestLeave(sessionID)
		return ctx.Err()
	}
}

// RequestLeave 请求在 Tick 线程中移除玩家，避免并发改动房间状态
// 离开不能丢，这里阻塞写入；房间已销毁时直接返回
func (r *Room) RequestLeave(sessionID string) {
	select {
	case r.inbox <- LeaveInput{SessionID: sessionID}:
	case <-r.done:
	}
}

// Inspect 读取房间视图
func (r *Room) Inspect(ctx context.Context) (RoomView, error) {
	reply := make(chan RoomView, 1)
	select {
	case r.inbox <- InspectInput{Reply: reply}:
	case <-r.done:
		return RoomView{}, ErrRoomClosed
	case <-ctx.Done():
		return RoomView{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return RoomView{}, ErrRoomClosed
	case <-ctx.Done():
		return RoomView{}, ctx.Err()
	}
}

// Unlock 显式解锁，返回解锁前是否锁定
func (r *Room) Unlock(ctx context.Context) (bool, error) {
	reply := make(chan bool, 1)
	select {
	case r.inbox <- UnlockInput{Reply: reply}:
	case <-r.done:
		return false, ErrRoomClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case was := <-reply:
		return was, nil
	case <-r.done:
		return false, ErrRoomClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ProcessInputs 按到达顺序处理本 Tick 开始时已在收件箱中的全部消息
func (r *Room) ProcessInputs() {
	n := len(r.inbox)
	for i := 0; i < n; i++ {
		r.handle(<-r.inbox)
	}
}

func (r *Room) handle(in Input) {
	switch v := in.(type) {
	case JoinInput:
		_, err := r.Join(v.SessionID, v.Conn)
		v.Reply <- err
	case LeaveInput:
		r.Leave(v.SessionID)
	case MotionInput:
		r.ApplyMotionUpdate(v.SessionID, v.Motion)
	case ReadyInput:
		r.ApplyReadyUpdate(v.SessionID, v.Ready)
	case SkinInput:
		r.ApplySkinUpdate(v.SessionID, v.Index)
	case UnlockInput:
		was := r.lobby.Unlock()
		if was {
			Log.Infof("room unlocked: room=%s reason=admin", r.ID)
		}
		v.Reply <- was
	case InspectInput:
		v.Reply <- r.View()
	}
}

// Join 把会话加入房间，在随机位置生成实体
// 满员优先于锁定判断：满员返回 ErrCapacityExceeded，锁定返回 ErrRoomLocked
func (r *Room) Join(sessionID string, conn Sink) (*state.Player, error) {
	if _, ok := r.state.Get(sessionID); ok {
		return nil, ErrAlreadyMember
	}
	if r.state.Len() >= r.capacity {
		r.metrics.IncJoinsRejected()
		return nil, ErrCapacityExceeded
	}
	if r.lobby.Locked() {
		r.metrics.IncJoinsRejected()
		return nil, ErrRoomLocked
	}

	p := state.NewPlayer(sessionID)
	p.X = r.randFloat()*10 - 5
	p.Y = 0
	p.Z = r.randFloat()*10 - 5
	r.state.Insert(p)
	r.members[sessionID] = &member{ID: sessionID, Conn: conn}
	r.hadMembers = true

	if conn != nil && !r.sendWelcome(conn, sessionID) {
		r.slow = append(r.slow, sessionID)
	}
	Log.Infof("session joined: room=%s session=%s players=%d/%d", r.ID, sessionID, r.state.Len(), r.capacity)
	return p, nil
}

// sendWelcome 发送 welcome 与上一次广播时的完整状态；
// 本 Tick 内的变化（包括自己的加入）随后由差分补齐。返回 false 表示该会话无法同步
func (r *Room) sendWelcome(conn Sink, sessionID string) bool {
	c := conn.Codec()
	welcome, err := c.Encode(protocol.MsgWelcome, protocol.Welcome{
		SessionID: sessionID,
		RoomID:    r.ID,
		Capacity:  r.capacity,
		TickHz:    int(time.Second / r.tickInterval),
	})
	if err != nil {
		Log.Errorf("encode welcome: room=%s err=%v", r.ID, err)
		return false
	}
	initial, err := r.encode(c, protocol.MsgState, protocol.StateBatch{Tick: r.prevTick, Changes: state.Adds(r.prev)})
	if err != nil {
		Log.Errorf("encode initial state: room=%s session=%s err=%v", r.ID, sessionID, err)
		return false
	}
	return conn.Enqueue(welcome) && conn.Enqueue(initial)
}

// Leave 将玩家移出房间；锁定的房间随之解锁（已准备标记保留）
// 重复离开为 no-op
func (r *Room) Leave(sessionID string) bool {
	m, hadMember := r.members[sessionID]
	removed := r.state.Remove(sessionID)
	if !removed && !hadMember {
		return false
	}
	delete(r.members, sessionID)
	if m != nil && m.Conn != nil {
		m.Conn.Close()
	}
	if r.lobby.OnLeave() {
		Log.Infof("room unlocked: room=%s reason=leave session=%s", r.ID, sessionID)
	}
	Log.Infof("session left: room=%s session=%s players=%d/%d", r.ID, sessionID, r.state.Len(), r.capacity)
	return true
}

// ApplyMotionUpdate 覆盖全部运动字段并打上当前 Tick 时间戳；未知会话静默忽略
func (r *Room) ApplyMotionUpdate(sessionID string, m state.Motion) {
	p, ok := r.state.Get(sessionID)
	if !ok {
		r.metrics.IncStale()
		return
	}
	p.Motion = m
	p.Timestamp = r.clock.Milliseconds()
	r.metrics.IncAccepted()
}

// ApplySkinUpdate 不校验皮肤索引范围，由客户端保证
func (r *Room) ApplySkinUpdate(sessionID string, index int) {
	p, ok := r.state.Get(sessionID)
	if !ok {
		r.metrics.IncStale()
		return
	}
	p.SkinIndex = index
	r.metrics.IncAccepted()
}

// ApplyReadyUpdate 写入准备标记并判定全员准备；首次满足时广播 startGame 并锁定
func (r *Room) ApplyReadyUpdate(sessionID string, ready bool) {
	p, ok := r.state.Get(sessionID)
	if !ok {
		r.metrics.IncStale()
		return
	}
	p.IsReady = ready
	r.metrics.IncAccepted()
	if r.lobby.OnReadyChanged(r.state) {
		r.events = append(r.events, protocol.MsgStartGame)
		Log.Infof("all players ready, game starting: room=%s players=%d", r.ID, r.state.Len())
	}
}

// UpdateWorld 推进世界其他状态（预留：碰撞、计分等；当前只有时间戳簿记）
func (r *Room) UpdateWorld(dt time.Duration) {
	_ = dt
}

// BroadcastDelta 与上一 Tick 的快照做差分，只广播变化的字段，随后发送一次性事件
func (r *Room) BroadcastDelta() {
	next := r.state.Snapshot()
	changes := state.Diff(r.prev, next)
	r.prev = next
	r.prevTick = r.tickSeq

	if len(changes) > 0 {
		r.broadcast(protocol.MsgState, protocol.StateBatch{Tick: r.tickSeq, Changes: changes})
		r.metrics.AddChanges(len(changes))
	}
	for _, ev := range r.events {
		r.broadcast(ev, nil)
	}
	r.events = r.events[:0]
	r.dropSlow()
}

// broadcast 每种编解码器只编码一次
// 入队失败或无法编码的会话记入 slow，本 Tick 结束时踢出
func (r *Room) broadcast(t string, payload any) {
	encoded := make(map[string][]byte, 2)
	failed := make(map[string]bool)
	r.state.Each(func(p *state.Player) bool {
		m := r.members[p.SessionID]
		if m == nil || m.Conn == nil {
			return true
		}
		c := m.Conn.Codec()
		if failed[c.Name()] {
			r.slow = append(r.slow, p.SessionID)
			return true
		}
		b, ok := encoded[c.Name()]
		if !ok {
			var err error
			b, err = r.encode(c, t, payload)
			if err != nil {
				Log.Errorf("encode broadcast: room=%s type=%s codec=%s err=%v", r.ID, t, c.Name(), err)
				failed[c.Name()] = true
				r.slow = append(r.slow, p.SessionID)
				return true
			}
			encoded[c.Name()] = b
		}
		if !m.Conn.Enqueue(b) {
			r.slow = append(r.slow, p.SessionID)
			return true
		}
		r.metrics.AddBytes(len(b))
		return true
	})
}

// encode 状态批次含非有限浮点数（JSON 无法表示）时，以 0 代替后重新编码
func (r *Room) encode(c protocol.Codec, t string, payload any) ([]byte, error) {
	b, err := c.Encode(t, payload)
	if err == nil {
		return b, nil
	}
	batch, ok := payload.(protocol.StateBatch)
	if !ok {
		return nil, err
	}
	finite, replaced := state.Finite(batch.Changes)
	if !replaced {
		return nil, err
	}
	r.metrics.IncEncodeFallback()
	Log.Warnf("non-finite values replaced: room=%s codec=%s tick=%d", r.ID, c.Name(), batch.Tick)
	return c.Encode(t, protocol.StateBatch{Tick: batch.Tick, Changes: finite})
}

// dropSlow 踢出无法继续接收差分的会话；实体移除随下一 Tick 的差分广播
func (r *Room) dropSlow() {
	for _, id := range r.slow {
		if r.Leave(id) {
			r.metrics.IncSlowDropped()
			Log.Warnf("session dropped, cannot deliver: room=%s session=%s", r.ID, id)
		}
	}
	r.slow = r.slow[:0]
}

// BeginTick 同一 Tick 时间线：推进序号与房间时钟
func (r *Room) BeginTick(dt time.Duration) {
	r.tickSeq++
	r.clock += dt
}

// Tick 一次完整的权威更新：处理输入 → 更新世界 → 广播差分 → 检查是否该销毁
func (r *Room) Tick(dt time.Duration) {
	r.BeginTick(dt)
	r.ProcessInputs()
	r.UpdateWorld(dt)
	r.BroadcastDelta()
	r.checkEmpty()
}

// checkEmpty 最后一人离开即销毁；从未有人加入的房间在 EmptyTTL 后销毁
func (r *Room) checkEmpty() {
	if r.disposed || r.state.Len() > 0 {
		return
	}
	if r.hadMembers || r.clock >= r.emptyTTL {
		r.disposed = true
	}
}

// Disposed 房间是否已进入销毁流程
func (r *Room) Disposed() bool { return r.disposed }

// Len 当前实体数
func (r *Room) Len() int { return r.state.Len() }

// Locked 是否锁定
func (r *Room) Locked() bool { return r.lobby.Locked() }

// Phase 大厅阶段
func (r *Room) Phase() lobby.Phase { return r.lobby.Phase(r.state) }

// Player 读取实体副本
func (r *Room) Player(sessionID string) (state.Player, bool) {
	p, ok := r.state.Get(sessionID)
	if !ok {
		return state.Player{}, false
	}
	return *p, true
}

// View 构造只读视图
func (r *Room) View() RoomView {
	v := RoomView{
		Code:     r.ID,
		Capacity: r.capacity,
		Locked:   r.lobby.Locked(),
		Phase:    r.lobby.Phase(r.state).String(),
		Tick:     r.tickSeq,
		Players:  make([]RosterEntry, 0, r.state.Len()),
	}
	r.state.Each(func(p *state.Player) bool {
		v.Players = append(v.Players, RosterEntry{SessionID: p.SessionID, IsReady: p.IsReady, SkinIndex: p.SkinIndex})
		return true
	})
	return v
}

func (r *Room) randFloat() float64 {
	if r.rng != nil {
		return r.rng.Float64()
	}
	return rand.Float64()
}
