// state/room_states.go
package state

import (
	"github.com/markus-fitmoji/orbital-match-colyseus/logger"
)

// 房间生命周期状态 ID
const (
	StateEmpty    = "empty"
	StateActive   = "active"
	StateDisposed = "disposed"
)

// NewEmptyState creates the state for a room with no players.
func NewEmptyState(room RoomContext) *EmptyState {
	return &EmptyState{
		RoomStateBase: RoomStateBase{
			ID:   StateEmpty,
			Room: room,
		},
	}
}

// 空房间状态：物理照常推进，但不向外广播
type EmptyState struct {
	RoomStateBase
}

func (s *EmptyState) OnEnter() {
	logger.Log.Infof("Room %s is now empty", s.Room.GetName())
}

func (s *EmptyState) OnUpdate() {
	if s.Room.PlayerCount() > 0 {
		s.Room.ChangeState(NewActiveState(s.Room))
	}
}

// NewActiveState creates the state for a room with connected players.
func NewActiveState(room RoomContext) *ActiveState {
	return &ActiveState{
		RoomStateBase: RoomStateBase{
			ID:   StateActive,
			Room: room,
		},
	}
}

// 活跃状态：每 tick 广播完整快照
type ActiveState struct {
	RoomStateBase
}

func (s *ActiveState) OnEnter() {
	logger.Log.Infof("Room %s is active, players=%d balls=%d",
		s.Room.GetName(), s.Room.PlayerCount(), s.Room.BallCount())
}

func (s *ActiveState) OnUpdate() {
	if s.Room.PlayerCount() == 0 {
		s.Room.ChangeState(NewEmptyState(s.Room))
	}
}

// NewDisposedState creates the terminal state. A disposed room never
// transitions anywhere else.
func NewDisposedState(room RoomContext) *DisposedState {
	return &DisposedState{
		RoomStateBase: RoomStateBase{
			ID:   StateDisposed,
			Room: room,
		},
	}
}

// 终态：房间已停机
type DisposedState struct {
	RoomStateBase
}

func (s *DisposedState) OnEnter() {
	logger.Log.Infof("Room %s disposed", s.Room.GetName())
}
