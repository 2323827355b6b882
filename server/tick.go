package server

import "time"

// StartTicker 启动房间的 Tick 循环（单线程推进世界），重复调用无效
func (r *Room) StartTicker() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

// Stop 请求停止 Tick 循环；可重复调用
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

func (r *Room) run() {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()
	defer r.shutdown()

	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			// 核心循环：处理输入 → 更新世界 → 广播结果
			start := time.Now()
			r.Tick(r.tickInterval)
			r.metrics.AddTick(time.Since(start).Nanoseconds())
			if r.disposed {
				return
			}
		}
	}
}

// shutdown 关闭 done，回复仍在收件箱里的请求，并关闭所有连接
func (r *Room) shutdown() {
	r.disposed = true
	close(r.done)
	for {
		select {
		case in := <-r.inbox:
			switch v := in.(type) {
			case JoinInput:
				v.Reply <- ErrRoomClosed
			case UnlockInput:
				v.Reply <- false
			case InspectInput:
				v.Reply <- r.View()
			}
			continue
		default:
		}
		break
	}
	for _, m := range r.members {
		if m.Conn != nil {
			m.Conn.Close()
		}
	}
	Log.Infof("room disposed: room=%s ticks=%d", r.ID, r.tickSeq)
	if r.onDispose != nil {
		r.onDispose(r.ID)
	}
}
