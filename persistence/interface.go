// persistence/interface.go
package persistence

import (
	"fmt"

	"github.com/markus-fitmoji/orbital-match-colyseus/models"
)

// Store 房间与匹配数据的持久化接口
type Store interface {
	// SaveRoomState upserts one room's full snapshot, keyed by room name.
	SaveRoomState(roomName string, snapshot *models.RoomSnapshot, currentPlayers int) error
	// LoadRoomState returns the latest snapshot or ErrRecordNotFound.
	LoadRoomState(roomName string) (*models.RoomSnapshot, error)

	CreateRoom(roomName string, maxPlayers int) error
	DeactivateRoom(roomName string) error
	ListActiveRooms() ([]models.RoomRecord, error)

	GetActiveAssignment(userID string) (*models.RoomAssignment, error)
	// AssignUserToRoom keeps at most one active assignment per user:
	// other active rows are deactivated before the target row is upserted.
	AssignUserToRoom(userID, roomName, playerName string) error

	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)
