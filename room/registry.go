// room/registry.go
package room

import (
	"sync"
	"time"

	"github.com/markus-fitmoji/orbital-match-colyseus/logger"
	"github.com/markus-fitmoji/orbital-match-colyseus/monitor"
	"github.com/markus-fitmoji/orbital-match-colyseus/persistence"
	"github.com/markus-fitmoji/orbital-match-colyseus/physics"
	"github.com/markus-fitmoji/orbital-match-colyseus/timer"
)

const (
	sweepInterval = time.Minute
	// staleAfter is how long a playerless room may idle before the
	// sweeper reclaims it. Covers rooms that were matched but never
	// joined, which the purge path cannot see.
	staleAfter = 5 * time.Minute
)

// Registry 管理进程内的所有活动房间
type Registry struct {
	mutex sync.RWMutex
	rooms map[string]*Room

	store       persistence.Store
	timers      *timer.TimerManager
	mon         *monitor.Monitor
	broadcaster Broadcaster

	maxPlayers int
	wildcards  bool
	phycfg     physics.Config

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry 创建房间注册表并启动清扫协程
func NewRegistry(store persistence.Store, timers *timer.TimerManager, mon *monitor.Monitor, maxPlayers int, wildcards bool) *Registry {
	reg := &Registry{
		rooms:      make(map[string]*Room),
		store:      store,
		timers:     timers,
		mon:        mon,
		maxPlayers: maxPlayers,
		wildcards:  wildcards,
		phycfg:     physics.DefaultConfig(),
		stopCh:     make(chan struct{}),
	}
	go reg.sweep()
	return reg
}

// SetBroadcaster 注入广播器。广播器本身依赖注册表，只能后置注入，
// 必须在第一个房间创建之前调用。
func (m *Registry) SetBroadcaster(b Broadcaster) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.broadcaster = b
}

// GetOrCreate 返回指定房间，不存在则创建并尝试恢复持久化快照
func (m *Registry) GetOrCreate(name string) *Room {
	m.mutex.RLock()
	r, exists := m.rooms[name]
	m.mutex.RUnlock()
	if exists {
		return r
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if r, exists := m.rooms[name]; exists {
		return r
	}

	r = NewRoom(name, Options{
		MaxPlayers:    m.maxPlayers,
		Wildcards:     m.wildcards,
		PhysicsConfig: m.phycfg,
		Store:         m.store,
		Timers:        m.timers,
		Monitor:       m.mon,
		Broadcaster:   m.broadcaster,
	})
	r.onEmpty = func() {
		// 从房间自己的协程触发，必须异步，否则 Dispose 等待循环退出时死锁
		go m.Dispose(name)
	}

	if m.store != nil {
		snap, err := m.store.LoadRoomState(name)
		switch {
		case err == nil:
			r.Restore(snap)
			logger.Log.Infof("Room %s restored: %d balls, score=%d", name, len(snap.Balls), snap.Score)
		case err != persistence.ErrRecordNotFound:
			logger.Log.Errorf("Room %s snapshot load failed: %v", name, err)
		}

		if err := m.store.CreateRoom(name, m.maxPlayers); err != nil {
			logger.Log.Errorf("Room %s record create failed: %v", name, err)
		}
	}

	r.Start()
	m.rooms[name] = r
	m.mon.SetActiveRooms(len(m.rooms))

	logger.Log.Infof("Room %s created", name)
	return r
}

// GetRoom 查找已存在的房间
func (m *Registry) GetRoom(name string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	r, exists := m.rooms[name]
	return r, exists
}

// Dispose 摘除并停机一个房间
func (m *Registry) Dispose(name string) {
	m.mutex.Lock()
	r, exists := m.rooms[name]
	if exists {
		delete(m.rooms, name)
	}
	count := len(m.rooms)
	m.mutex.Unlock()

	if !exists {
		return
	}
	m.mon.SetActiveRooms(count)
	r.Dispose()
}

// LivePlayerCount 返回房间的在线玩家数，房间不存在时为 0。
// 匹配器用它做容量判断，而不是持久化里的计数。
func (m *Registry) LivePlayerCount(name string) int {
	m.mutex.RLock()
	r, exists := m.rooms[name]
	m.mutex.RUnlock()

	if !exists {
		return 0
	}
	return r.PlayerCount()
}

// RoomCount 返回活动房间数
func (m *Registry) RoomCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// Shutdown 停机所有房间并停止清扫
func (m *Registry) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})

	m.mutex.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[string]*Room)
	m.mutex.Unlock()

	for _, r := range rooms {
		r.Dispose()
	}
	m.mon.SetActiveRooms(0)

	logger.Log.Infof("Registry shut down, %d rooms disposed", len(rooms))
}

func (m *Registry) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			for _, name := range m.staleRooms() {
				logger.Log.Infof("Room %s idle with no players, disposing", name)
				m.Dispose(name)
			}
		}
	}
}

func (m *Registry) staleRooms() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var stale []string
	for name, r := range m.rooms {
		if r.TotalPlayers() == 0 && r.IdleFor() > staleAfter {
			stale = append(stale, name)
		}
	}
	return stale
}
