package server

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpdemo/lobby"
	"mpdemo/protocol"
	"mpdemo/state"
)

const dt = time.Second / protocol.SimTickHz

type fakeSink struct {
	codec  protocol.Codec
	limit  int // 大于 0 时模拟容量有限、从不被写出的发送队列
	mu     sync.Mutex
	msgs   [][]byte
	closed atomic.Bool
}

func newFakeSink() *fakeSink { return &fakeSink{codec: protocol.JSON} }

func (f *fakeSink) Enqueue(b []byte) bool {
	cp := make([]byte, len(b))
	copy(cp, b)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit > 0 && len(f.msgs) >= f.limit {
		return false
	}
	f.msgs = append(f.msgs, cp)
	return true
}

func (f *fakeSink) Close()                { f.closed.Store(true) }
func (f *fakeSink) Codec() protocol.Codec { return f.codec }

// drain 取出并解码目前收到的全部消息
func (f *fakeSink) drain(t *testing.T) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	msgs := f.msgs
	f.msgs = nil
	f.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(msgs))
	for _, b := range msgs {
		env, err := f.codec.Decode(b)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func count(envs []protocol.Envelope, typ string) int {
	n := 0
	for _, e := range envs {
		if e.T == typ {
			n++
		}
	}
	return n
}

func stateBatches(t *testing.T, envs []protocol.Envelope) []protocol.StateBatch {
	t.Helper()
	var out []protocol.StateBatch
	for _, e := range envs {
		if e.T != protocol.MsgState {
			continue
		}
		b, err := protocol.DecodePayload[protocol.StateBatch](protocol.JSON, e)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func newTestRoom() *Room {
	return NewRoom("1234", RoomOptions{Rand: rand.New(rand.NewPCG(1, 2))})
}

func TestJoinSpawnsWithDefaults(t *testing.T) {
	r := newTestRoom()
	for i := 0; i < 4; i++ {
		p, err := r.Join(string(rune('a'+i)), nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.X, -5.0)
		assert.LessOrEqual(t, p.X, 5.0)
		assert.GreaterOrEqual(t, p.Z, -5.0)
		assert.LessOrEqual(t, p.Z, 5.0)
		assert.Zero(t, p.Y)
		assert.False(t, p.IsReady)
		assert.Zero(t, p.SkinIndex)
	}
}

func TestJoinCapacityExceeded(t *testing.T) {
	r := newTestRoom()
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := r.Join(id, nil)
		require.NoError(t, err)
	}
	_, err := r.Join("e", nil)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 4, r.Len())
	assert.EqualValues(t, 1, r.Metrics().Snapshot()["joins_rejected"])
}

func TestJoinDuplicateSession(t *testing.T) {
	r := newTestRoom()
	_, err := r.Join("a", nil)
	require.NoError(t, err)
	_, err = r.Join("a", nil)
	assert.ErrorIs(t, err, ErrAlreadyMember)
	assert.Equal(t, 1, r.Len())
}

func TestStaleMessagesAreNoOps(t *testing.T) {
	r := newTestRoom()
	_, err := r.Join("a", nil)
	require.NoError(t, err)
	require.True(t, r.Leave("a"))

	assert.NotPanics(t, func() {
		r.ApplyMotionUpdate("a", state.Motion{X: 100})
		r.ApplyReadyUpdate("a", true)
		r.ApplySkinUpdate("a", 3)
		r.ApplyReadyUpdate("ghost", true)
	})
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Locked())
	assert.EqualValues(t, 4, r.Metrics().Snapshot()["stale_ignored"])
}

func TestLeaveIsIdempotent(t *testing.T) {
	r := newTestRoom()
	sink := newFakeSink()
	_, err := r.Join("a", sink)
	require.NoError(t, err)

	assert.True(t, r.Leave("a"))
	assert.True(t, sink.closed.Load())
	assert.False(t, r.Leave("a"))
	assert.False(t, r.Leave("never-joined"))
}

func TestMotionUpdateOverwritesAndStamps(t *testing.T) {
	r := newTestRoom()
	_, err := r.Join("a", nil)
	require.NoError(t, err)
	r.Tick(dt)
	r.Tick(dt)

	m := state.Motion{
		X: 1, Y: 2, Z: 3, RotationY: 90,
		VelocityX: 4, VelocityY: -5, VelocityZ: 6,
		AnimInputX: 0.5, AnimInputY: -1,
		IsGrounded: false, IsJumping: true,
		CameraRotationX: 10, CameraRotationY: 20,
	}
	r.ApplyMotionUpdate("a", m)

	p, ok := r.Player("a")
	require.True(t, ok)
	assert.Equal(t, m, p.Motion)
	assert.Equal(t, (2 * dt).Milliseconds(), p.Timestamp)

	// 不做范围校验
	r.ApplyMotionUpdate("a", state.Motion{X: 1e9, AnimInputX: 42})
	p, _ = r.Player("a")
	assert.Equal(t, 1e9, p.X)
	assert.Equal(t, 42.0, p.AnimInputX)
}

func TestSkinUpdateHasNoBoundsCheck(t *testing.T) {
	r := newTestRoom()
	_, err := r.Join("a", nil)
	require.NoError(t, err)
	r.ApplySkinUpdate("a", 99)
	p, _ := r.Player("a")
	assert.Equal(t, 99, p.SkinIndex)
}

// 两人加入 → A 准备 → B 准备 → 恰好一次 startGame 并锁定 → C 被拒 → A 离开 → C 加入成功
func TestReadyLockScenario(t *testing.T) {
	r := newTestRoom()
	a, b, c := newFakeSink(), newFakeSink(), newFakeSink()

	_, err := r.Join("A", a)
	require.NoError(t, err)
	_, err = r.Join("B", b)
	require.NoError(t, err)
	r.Tick(dt)
	assert.Equal(t, 2, r.Len())
	assert.False(t, r.Locked())
	assert.Equal(t, lobby.PhaseWaiting, r.Phase())
	a.drain(t)
	b.drain(t)

	r.ApplyReadyUpdate("A", true)
	r.Tick(dt)
	assert.Zero(t, count(a.drain(t), protocol.MsgStartGame))
	assert.Zero(t, count(b.drain(t), protocol.MsgStartGame))
	assert.False(t, r.Locked())

	r.ApplyReadyUpdate("B", true)
	r.Tick(dt)
	assert.Equal(t, 1, count(a.drain(t), protocol.MsgStartGame))
	assert.Equal(t, 1, count(b.drain(t), protocol.MsgStartGame))
	assert.True(t, r.Locked())
	assert.Equal(t, lobby.PhaseLocked, r.Phase())

	_, err = r.Join("C", c)
	assert.ErrorIs(t, err, ErrRoomLocked)
	assert.Empty(t, c.drain(t), "rejected join must not leave partial state on the sink")

	require.True(t, r.Leave("A"))
	assert.False(t, r.Locked())

	_, err = r.Join("C", c)
	require.NoError(t, err)
	view := r.View()
	require.Len(t, view.Players, 2)
	assert.Equal(t, "B", view.Players[0].SessionID)
	assert.Equal(t, "C", view.Players[1].SessionID)
	assert.False(t, view.Players[1].IsReady)

	// 解锁后不会清除留下玩家的准备标记
	assert.True(t, view.Players[0].IsReady)
}

func TestStartGameNotRefiredWhileLocked(t *testing.T) {
	r := newTestRoom()
	a := newFakeSink()
	_, err := r.Join("A", a)
	require.NoError(t, err)
	_, err = r.Join("B", nil)
	require.NoError(t, err)

	r.ApplyReadyUpdate("A", true)
	r.ApplyReadyUpdate("B", true)
	r.Tick(dt)
	require.Equal(t, 1, count(a.drain(t), protocol.MsgStartGame))

	r.ApplyReadyUpdate("B", false)
	r.ApplyReadyUpdate("B", true)
	r.ApplyReadyUpdate("A", true)
	r.Tick(dt)
	assert.Zero(t, count(a.drain(t), protocol.MsgStartGame))
	assert.True(t, r.Locked())
}

func TestReadyFlipBeforeLockKeepsRoomOpen(t *testing.T) {
	r := newTestRoom()
	for _, id := range []string{"A", "B", "C"} {
		_, err := r.Join(id, nil)
		require.NoError(t, err)
	}
	r.ApplyReadyUpdate("A", true)
	r.ApplyReadyUpdate("B", true)
	r.ApplyReadyUpdate("A", false)
	r.ApplyReadyUpdate("C", true)
	assert.False(t, r.Locked())
	assert.Equal(t, lobby.PhaseWaiting, r.Phase())
}

func TestWelcomeThenInitialStateThenOwnAdd(t *testing.T) {
	r := newTestRoom()
	_, err := r.Join("A", nil)
	require.NoError(t, err)
	r.Tick(dt)

	b := newFakeSink()
	_, err = r.Join("B", b)
	require.NoError(t, err)

	envs := b.drain(t)
	require.Len(t, envs, 2)
	assert.Equal(t, protocol.MsgWelcome, envs[0].T)
	welcome, err := protocol.DecodePayload[protocol.Welcome](protocol.JSON, envs[0])
	require.NoError(t, err)
	assert.Equal(t, "B", welcome.SessionID)
	assert.Equal(t, "1234", welcome.RoomID)
	assert.Equal(t, protocol.RoomCapacity, welcome.Capacity)
	assert.Equal(t, protocol.SimTickHz, welcome.TickHz)

	initial := stateBatches(t, envs[1:])
	require.Len(t, initial, 1)
	require.Len(t, initial[0].Changes, 1, "initial state holds what was last broadcast")
	assert.Equal(t, "A", initial[0].Changes[0].SessionID)

	r.Tick(dt)
	batches := stateBatches(t, b.drain(t))
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Changes, 1)
	assert.Equal(t, state.OpAdd, batches[0].Changes[0].Op)
	assert.Equal(t, "B", batches[0].Changes[0].SessionID)
	assert.Greater(t, batches[0].Tick, initial[0].Tick)
}

func TestBroadcastCarriesOnlyChangedFields(t *testing.T) {
	r := newTestRoom()
	a := newFakeSink()
	_, err := r.Join("A", a)
	require.NoError(t, err)
	r.Tick(dt)
	a.drain(t)

	r.Tick(dt)
	assert.Empty(t, a.drain(t), "no changes, no broadcast")

	r.ApplySkinUpdate("A", 2)
	r.Tick(dt)
	batches := stateBatches(t, a.drain(t))
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Changes, 1)
	ch := batches[0].Changes[0]
	assert.Equal(t, state.OpPatch, ch.Op)
	assert.Equal(t, map[state.Field]any{state.FieldSkinIndex: 2.0}, ch.Fields)

	r.Leave("A")
	_, err = r.Join("B", a)
	require.NoError(t, err)
	a.drain(t)
	r.Tick(dt)
	batches = stateBatches(t, a.drain(t))
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Changes, 2)
	assert.Equal(t, state.OpRemove, batches[0].Changes[0].Op)
	assert.Equal(t, "A", batches[0].Changes[0].SessionID)
	assert.Equal(t, state.OpAdd, batches[0].Changes[1].Op)
}

func TestMixedCodecsEncodeOncePerCodec(t *testing.T) {
	r := newTestRoom()
	a := newFakeSink()
	b := &fakeSink{codec: protocol.Msgpack}
	_, err := r.Join("A", a)
	require.NoError(t, err)
	_, err = r.Join("B", b)
	require.NoError(t, err)
	r.Tick(dt)

	assert.Equal(t, 1, count(a.drain(t), protocol.MsgState))
	envs := b.drain(t)
	require.Equal(t, protocol.MsgWelcome, envs[0].T)
	batch, err := protocol.DecodePayload[protocol.StateBatch](protocol.Msgpack, envs[len(envs)-1])
	require.NoError(t, err)
	assert.Len(t, batch.Changes, 2)
}

func TestInboxIsProcessedInArrivalOrder(t *testing.T) {
	r := newTestRoom()
	_, err := r.Join("A", nil)
	require.NoError(t, err)

	require.True(t, r.OnInput(ReadyInput{SessionID: "A", Ready: true}))
	require.True(t, r.OnInput(SkinInput{SessionID: "A", Index: 1}))
	require.True(t, r.OnInput(ReadyInput{SessionID: "A", Ready: false}))
	require.True(t, r.OnInput(SkinInput{SessionID: "A", Index: 3}))
	r.Tick(dt)

	p, _ := r.Player("A")
	assert.Equal(t, 3, p.SkinIndex)
	// 单人准备会立即锁定，随后取消准备不会解锁
	assert.True(t, r.Locked())
	assert.False(t, p.IsReady)
}

func TestInboxFullDropsInput(t *testing.T) {
	r := newTestRoom()
	for i := 0; i < cap(r.inbox); i++ {
		require.True(t, r.OnInput(SkinInput{SessionID: "x", Index: i}))
	}
	assert.False(t, r.OnInput(SkinInput{SessionID: "x"}))
	assert.EqualValues(t, 1, r.Metrics().Snapshot()["chan_full_discarded"])
}

func TestFullSendQueueDropsSession(t *testing.T) {
	r := newTestRoom()
	a := &fakeSink{codec: protocol.JSON, limit: 3}
	b := newFakeSink()
	_, err := r.Join("A", a)
	require.NoError(t, err)
	_, err = r.Join("B", b)
	require.NoError(t, err)
	r.Tick(dt) // A: welcome + 初始状态 + 本 Tick 批次，队列已满
	b.drain(t)

	require.True(t, r.OnInput(SkinInput{SessionID: "B", Index: 7}))
	r.Tick(dt)

	assert.True(t, a.closed.Load())
	_, ok := r.Player("A")
	assert.False(t, ok)
	assert.EqualValues(t, 1, r.Metrics().Snapshot()["slow_dropped"])

	r.Tick(dt)
	batches := stateBatches(t, b.drain(t))
	require.Len(t, batches, 2)
	assert.Equal(t, map[state.Field]any{state.FieldSkinIndex: 7.0}, batches[0].Changes[0].Fields)
	require.Len(t, batches[1].Changes, 1)
	assert.Equal(t, state.OpRemove, batches[1].Changes[0].Op)
	assert.Equal(t, "A", batches[1].Changes[0].SessionID)
}

func TestStalledClientConnIsRemovedInsteadOfDesynced(t *testing.T) {
	r := newTestRoom()
	stalled := NewClientConn(nil, protocol.JSON) // 没有写协程，队列永不清空
	b := newFakeSink()
	_, err := r.Join("A", stalled)
	require.NoError(t, err)
	_, err = r.Join("B", b)
	require.NoError(t, err)

	for i := 0; i < 80; i++ {
		require.True(t, r.OnInput(MotionInput{SessionID: "B", Motion: state.Motion{X: float64(i)}}))
		r.Tick(dt)
	}
	_, ok := r.Player("A")
	assert.False(t, ok, "a session that can no longer receive diffs must leave the room")
	assert.False(t, stalled.Enqueue([]byte("x")))
	assert.EqualValues(t, 1, r.Metrics().Snapshot()["slow_dropped"])
	assert.Equal(t, 1, r.Len())
}

func TestNonFiniteMotionDoesNotStarveJSONPeers(t *testing.T) {
	r := newTestRoom()
	a := newFakeSink()
	b := &fakeSink{codec: protocol.Msgpack}
	_, err := r.Join("A", a)
	require.NoError(t, err)
	_, err = r.Join("B", b)
	require.NoError(t, err)
	r.Tick(dt)
	a.drain(t)
	b.drain(t)

	require.True(t, r.OnInput(MotionInput{SessionID: "B", Motion: state.Motion{X: math.NaN(), IsGrounded: true}}))
	r.Tick(dt)

	batches := stateBatches(t, a.drain(t))
	require.Len(t, batches, 1)
	assert.Equal(t, 0.0, batches[0].Changes[0].Fields[state.FieldX])
	assert.EqualValues(t, 1, r.Metrics().Snapshot()["encode_fallbacks"])

	envs := b.drain(t)
	require.Len(t, envs, 1)
	mb, err := protocol.DecodePayload[protocol.StateBatch](protocol.Msgpack, envs[0])
	require.NoError(t, err)
	x, ok := mb.Changes[0].Fields[state.FieldX].(float64)
	require.True(t, ok)
	assert.True(t, math.IsNaN(x))

	// 同一个 NaN 不会重复产生 patch
	r.Tick(dt)
	assert.Empty(t, a.drain(t))
	assert.Empty(t, b.drain(t))

	require.True(t, r.OnInput(ReadyInput{SessionID: "A", Ready: true}))
	r.Tick(dt)
	batches = stateBatches(t, a.drain(t))
	require.Len(t, batches, 1)
	assert.Equal(t, map[state.Field]any{state.FieldIsReady: true}, batches[0].Changes[0].Fields)
	assert.False(t, a.closed.Load())
	assert.EqualValues(t, 1, r.Metrics().Snapshot()["encode_fallbacks"])
}

func TestJoinerSeesFiniteInitialState(t *testing.T) {
	r := newTestRoom()
	_, err := r.Join("B", &fakeSink{codec: protocol.Msgpack})
	require.NoError(t, err)
	require.True(t, r.OnInput(MotionInput{SessionID: "B", Motion: state.Motion{Z: math.Inf(1)}}))
	r.Tick(dt)

	a := newFakeSink()
	_, err = r.Join("A", a)
	require.NoError(t, err)
	envs := a.drain(t)
	require.Len(t, envs, 2)
	initial := stateBatches(t, envs)
	require.Len(t, initial, 1)
	require.Len(t, initial[0].Changes, 1)
	assert.Equal(t, 0.0, initial[0].Changes[0].Player.Z)
}

func TestTickLoopJoinAndDisposeOnLastLeave(t *testing.T) {
	disposed := make(chan string, 1)
	r := NewRoom("4321", RoomOptions{OnDispose: func(code string) { disposed <- code }})
	r.StartTicker()
	defer r.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sink := newFakeSink()
	require.NoError(t, r.RequestJoin(ctx, "A", sink))
	assert.ErrorIs(t, r.RequestJoin(ctx, "A", nil), ErrAlreadyMember)

	view, err := r.Inspect(ctx)
	require.NoError(t, err)
	require.Len(t, view.Players, 1)
	assert.Equal(t, "A", view.Players[0].SessionID)

	r.RequestLeave("A")
	select {
	case code := <-disposed:
		assert.Equal(t, "4321", code)
	case <-time.After(time.Second):
		t.Fatalf("room was not disposed after last leave")
	}
	<-r.Done()
	assert.True(t, sink.closed.Load())
	assert.ErrorIs(t, r.RequestJoin(ctx, "B", nil), ErrRoomClosed)
}

func TestUnjoinedRoomDisposesAfterTTL(t *testing.T) {
	r := NewRoom("5555", RoomOptions{EmptyTTL: 50 * time.Millisecond})
	r.StartTicker()
	defer r.Stop()

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatalf("empty room outlived its ttl")
	}
}

func TestUnlockThroughInbox(t *testing.T) {
	r := newTestRoom()
	r.StartTicker()
	defer r.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, r.RequestJoin(ctx, "A", nil))
	r.OnInput(ReadyInput{SessionID: "A", Ready: true})
	assert.Eventually(t, func() bool {
		v, err := r.Inspect(ctx)
		return err == nil && v.Locked
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, r.RequestJoin(ctx, "B", nil), ErrRoomLocked)

	was, err := r.Unlock(ctx)
	require.NoError(t, err)
	assert.True(t, was)
	require.NoError(t, r.RequestJoin(ctx, "B", nil))
}
