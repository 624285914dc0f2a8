// persistence/memory.go
package persistence

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/markus-fitmoji/orbital-match-colyseus/models"
)

// MemoryStore 内存实现，未配置数据库时兜底使用
//
// Snapshots are kept as marshaled JSON so a load never shares slices
// with what the caller saved.
type MemoryStore struct {
	mutex       sync.RWMutex
	nextSeq     int64
	rooms       map[string]*memoryRoom
	assignments map[string]map[string]*models.RoomAssignment // userID -> roomName
}

type memoryRoom struct {
	seq    int64
	record models.RoomRecord
	state  []byte
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:       make(map[string]*memoryRoom),
		assignments: make(map[string]map[string]*models.RoomAssignment),
	}
}

func (m *MemoryStore) getOrCreateRoom(roomName string, maxPlayers int) *memoryRoom {
	room, exists := m.rooms[roomName]
	if !exists {
		if maxPlayers <= 0 {
			maxPlayers = 20
		}
		m.nextSeq++
		room = &memoryRoom{
			seq: m.nextSeq,
			record: models.RoomRecord{
				RoomName:   roomName,
				MaxPlayers: maxPlayers,
				IsActive:   true,
				CreatedAt:  time.Now(),
			},
		}
		m.rooms[roomName] = room
	}
	return room
}

// SaveRoomState 保存房间快照
func (m *MemoryStore) SaveRoomState(roomName string, snapshot *models.RoomSnapshot, currentPlayers int) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	room := m.getOrCreateRoom(roomName, 0)
	room.state = data
	room.record.CurrentPlayers = currentPlayers
	room.record.LastActivity = time.Now()
	return nil
}

// LoadRoomState 加载房间快照
func (m *MemoryStore) LoadRoomState(roomName string) (*models.RoomSnapshot, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[roomName]
	if !exists || room.state == nil {
		return nil, ErrRecordNotFound
	}

	var snapshot models.RoomSnapshot
	if err := json.Unmarshal(room.state, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// CreateRoom 登记房间，已存在则重新激活
func (m *MemoryStore) CreateRoom(roomName string, maxPlayers int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room := m.getOrCreateRoom(roomName, maxPlayers)
	room.record.IsActive = true
	if maxPlayers > 0 {
		room.record.MaxPlayers = maxPlayers
	}
	room.record.LastActivity = time.Now()
	return nil
}

// DeactivateRoom 房间下线
func (m *MemoryStore) DeactivateRoom(roomName string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if room, exists := m.rooms[roomName]; exists {
		room.record.IsActive = false
		room.record.CurrentPlayers = 0
	}
	return nil
}

// ListActiveRooms 按创建顺序返回所有活跃房间
func (m *MemoryStore) ListActiveRooms() ([]models.RoomRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var live []*memoryRoom
	for _, room := range m.rooms {
		if room.record.IsActive {
			live = append(live, room)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })

	records := make([]models.RoomRecord, 0, len(live))
	for _, room := range live {
		records = append(records, room.record)
	}
	return records, nil
}

// GetActiveAssignment 查询用户当前的活跃绑定
func (m *MemoryStore) GetActiveAssignment(userID string) (*models.RoomAssignment, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, a := range m.assignments[userID] {
		if a.IsActive {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrRecordNotFound
}

// AssignUserToRoom 绑定用户到房间，保证每个用户至多一条活跃绑定
func (m *MemoryStore) AssignUserToRoom(userID, roomName, playerName string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	byRoom, exists := m.assignments[userID]
	if !exists {
		byRoom = make(map[string]*models.RoomAssignment)
		m.assignments[userID] = byRoom
	}

	now := time.Now()
	for name, a := range byRoom {
		if name != roomName {
			a.IsActive = false
		}
	}

	if a, exists := byRoom[roomName]; exists {
		a.PlayerName = playerName
		a.LastSeen = now
		a.IsActive = true
		return nil
	}

	byRoom[roomName] = &models.RoomAssignment{
		UserID:     userID,
		RoomName:   roomName,
		PlayerName: playerName,
		JoinedAt:   now,
		LastSeen:   now,
		IsActive:   true,
	}
	return nil
}

// Close 无资源可释放
func (m *MemoryStore) Close() error {
	return nil
}
