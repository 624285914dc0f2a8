// services/matchmaker.go
package services

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/markus-fitmoji/orbital-match-colyseus/logger"
	"github.com/markus-fitmoji/orbital-match-colyseus/persistence"
)

// LiveCounts 提供房间的实时在线人数。容量判断只认内存里的数字，
// 持久化的 current_players 只是落库时的旁观值。
type LiveCounts interface {
	LivePlayerCount(roomName string) int
}

// Matchmaker 负责把用户放进恰好一个房间
type Matchmaker struct {
	store      persistence.Store
	live       LiveCounts
	maxPlayers int
	group      singleflight.Group
}

func NewMatchmaker(store persistence.Store, live LiveCounts, maxPlayers int) *Matchmaker {
	return &Matchmaker{
		store:      store,
		live:       live,
		maxPlayers: maxPlayers,
	}
}

// FindOrCreateRoomForUser 返回用户应进入的房间名
//
// Concurrent calls for the same userID coalesce into one in-flight
// resolution; every caller observes the single result. Calls for
// different users run independently. The store never fails the caller:
// on any durable-store error the user gets a locally generated
// ephemeral room instead.
func (s *Matchmaker) FindOrCreateRoomForUser(userID, playerName string, maxPlayers int) string {
	if maxPlayers <= 0 {
		maxPlayers = s.maxPlayers
	}

	v, _, _ := s.group.Do(userID, func() (interface{}, error) {
		return s.resolve(userID, playerName, maxPlayers), nil
	})
	return v.(string)
}

func (s *Matchmaker) resolve(userID, playerName string, maxPlayers int) string {
	// 1. 已有活跃绑定：回原房间，顺带刷新名字和 last_seen
	a, err := s.store.GetActiveAssignment(userID)
	if err == nil {
		if err := s.store.AssignUserToRoom(userID, a.RoomName, playerName); err != nil {
			logger.Log.Warnf("Matchmaker refresh for user %s failed: %v", userID, err)
		}
		logger.Log.Infof("Matchmaker: user %s rejoins room %s", userID, a.RoomName)
		return a.RoomName
	}
	if err != persistence.ErrRecordNotFound {
		logger.Log.Errorf("Matchmaker assignment lookup for user %s failed: %v", userID, err)
		return s.fallbackRoom(userID)
	}

	// 2. 按创建顺序找一个未满的活跃房间
	rooms, err := s.store.ListActiveRooms()
	if err != nil {
		logger.Log.Errorf("Matchmaker room scan failed: %v", err)
		return s.fallbackRoom(userID)
	}
	for _, rec := range rooms {
		capacity := rec.MaxPlayers
		if capacity <= 0 {
			capacity = maxPlayers
		}
		if s.live.LivePlayerCount(rec.RoomName) >= capacity {
			continue
		}
		if err := s.store.AssignUserToRoom(userID, rec.RoomName, playerName); err != nil {
			logger.Log.Errorf("Matchmaker assign user %s to room %s failed: %v", userID, rec.RoomName, err)
			return s.fallbackRoom(userID)
		}
		logger.Log.Infof("Matchmaker: user %s assigned to room %s", userID, rec.RoomName)
		return rec.RoomName
	}

	// 3. 全满或一个房间都没有：新建
	roomName := newRoomName()
	if err := s.store.CreateRoom(roomName, maxPlayers); err != nil {
		logger.Log.Errorf("Matchmaker create room %s failed: %v", roomName, err)
		return s.fallbackRoom(userID)
	}
	if err := s.store.AssignUserToRoom(userID, roomName, playerName); err != nil {
		logger.Log.Errorf("Matchmaker assign user %s to new room %s failed: %v", userID, roomName, err)
		return s.fallbackRoom(userID)
	}
	logger.Log.Infof("Matchmaker: user %s assigned to new room %s", userID, roomName)
	return roomName
}

// fallbackRoom hands out a locally generated room so the user is never
// blocked on a broken store. The room exists only in memory until the
// next successful save.
func (s *Matchmaker) fallbackRoom(userID string) string {
	name := newRoomName()
	logger.Log.Warnf("Matchmaker: store unavailable, user %s gets ephemeral room %s", userID, name)
	return name
}

// newRoomName 生成 room-xxxxxxxx 形式的房间名
func newRoomName() string {
	id := uuid.New().String()
	return "room-" + strings.SplitN(id, "-", 2)[0]
}
