// models/gorm_models.go
package models

import "time"

// GameRoomModel 房间表，game_state 整列存 JSON
type GameRoomModel struct {
	ID             uint         `gorm:"primaryKey"`
	RoomName       string       `gorm:"uniqueIndex;size:64;not null"`
	GameState      RoomSnapshot `gorm:"serializer:json;type:jsonb"`
	MaxPlayers     int          `gorm:"default:20"`
	CurrentPlayers int          `gorm:"default:0"`
	IsActive       bool         `gorm:"default:true;index"`
	LastActivity   time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 指定表名
func (GameRoomModel) TableName() string {
	return "game_rooms"
}

// RoomAssignmentModel 用户-房间绑定表，(user_id, room_name) 唯一
type RoomAssignmentModel struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     string `gorm:"size:64;not null;uniqueIndex:idx_assignment_user_room"`
	RoomName   string `gorm:"size:64;not null;uniqueIndex:idx_assignment_user_room"`
	PlayerName string `gorm:"size:64"`
	JoinedAt   time.Time
	LastSeen   time.Time
	IsActive   bool `gorm:"default:true;index"`
}

// TableName 指定表名
func (RoomAssignmentModel) TableName() string {
	return "room_assignments"
}
