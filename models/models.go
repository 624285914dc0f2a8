// models/models.go
package models

import "time"

// BallState 球的网络快照，字段名与客户端协议一致
type BallState struct {
	ID              uint64  `json:"id"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Color           string  `json:"color"`
	VelocityX       float64 `json:"velocityX"`
	VelocityY       float64 `json:"velocityY"`
	Angle           float64 `json:"angle"`
	AngularVelocity float64 `json:"angularVelocity"`
	PlayerID        string  `json:"playerId,omitempty"`
}

// PlayerState 玩家的网络快照
type PlayerState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// RoomSnapshot 房间持久化状态，落库时整体序列化为 JSON
type RoomSnapshot struct {
	Balls         []BallState `json:"balls"`
	Score         uint64      `json:"score"`
	NextBallColor string      `json:"nextBallColor"`
	BallIDCounter uint64      `json:"ballIdCounter"`
}

// GameStateUpdate 每 tick 广播的完整状态
type GameStateUpdate struct {
	Balls         []BallState   `json:"balls"`
	Score         uint64        `json:"score"`
	NextBallColor string        `json:"nextBallColor"`
	Players       []PlayerState `json:"players"`
}

// BallsPopped 消除事件
type BallsPopped struct {
	Count    int    `json:"count"`
	NewScore uint64 `json:"newScore"`
}

// GameReset 重置事件，无字段
type GameReset struct{}

// ServerNotice 运维通知
type ServerNotice struct {
	Message string `json:"message"`
}

// FindRoomRequest 匹配请求
type FindRoomRequest struct {
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
}

// RoomAssigned 匹配成功应答
type RoomAssigned struct {
	RoomName   string `json:"roomName"`
	UserID     string `json:"userId"`
	PlayerName string `json:"playerName"`
}

// RoomError 匹配失败应答
type RoomError struct {
	Message string `json:"message"`
}

// JoinRoomRequest 入房请求
type JoinRoomRequest struct {
	RoomName  string `json:"roomName"`
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// DropBallRequest 投球请求
type DropBallRequest struct {
	X     float64 `json:"x"`
	Color string  `json:"color"`
}

// ResetGameRequest 重置请求，无字段
type ResetGameRequest struct{}

// RoomRecord 房间的持久化元信息（非 GORM 模型）
type RoomRecord struct {
	RoomName       string
	MaxPlayers     int
	CurrentPlayers int
	IsActive       bool
	LastActivity   time.Time
	CreatedAt      time.Time
}

// RoomAssignment 用户与房间的持久化绑定
type RoomAssignment struct {
	UserID     string
	RoomName   string
	PlayerName string
	JoinedAt   time.Time
	LastSeen   time.Time
	IsActive   bool
}
