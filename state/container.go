package state

// Container 房间状态容器：按加入顺序排列的 sessionId -> Player 映射
// 非并发安全：只允许所属房间的 Tick 协程读写
type Container struct {
	order   []string
	players map[string]*Player
}

func NewContainer() *Container {
	return &Container{players: make(map[string]*Player)}
}

func (c *Container) Len() int { return len(c.order) }

func (c *Container) Get(id string) (*Player, bool) {
	p, ok := c.players[id]
	return p, ok
}

// Insert 追加实体；sessionId 已存在时返回 false
func (c *Container) Insert(p *Player) bool {
	if _, ok := c.players[p.SessionID]; ok {
		return false
	}
	c.players[p.SessionID] = p
	c.order = append(c.order, p.SessionID)
	return true
}

// Remove 删除实体，重复删除为 no-op
func (c *Container) Remove(id string) bool {
	if _, ok := c.players[id]; !ok {
		return false
	}
	delete(c.players, id)
	for i, k := range c.order {
		if k == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Each 按加入顺序遍历，fn 返回 false 时停止
func (c *Container) Each(fn func(*Player) bool) {
	for _, id := range c.order {
		if !fn(c.players[id]) {
			return
		}
	}
}

func (c *Container) Keys() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Snapshot 拷贝当前状态，用于 Tick 边界的差分
func (c *Container) Snapshot() Snapshot {
	s := Snapshot{
		Order:   c.Keys(),
		Players: make(map[string]Player, len(c.players)),
	}
	for id, p := range c.players {
		s.Players[id] = *p
	}
	return s
}

// Snapshot 某一 Tick 的只读状态副本
type Snapshot struct {
	Order   []string
	Players map[string]Player
}

func (s Snapshot) Len() int { return len(s.Order) }

func (s Snapshot) Get(id string) (Player, bool) {
	p, ok := s.Players[id]
	return p, ok
}

// Each 按加入顺序遍历
func (s Snapshot) Each(fn func(*Player) bool) {
	for _, id := range s.Order {
		p := s.Players[id]
		if !fn(&p) {
			return
		}
	}
}
