// state/interfaces.go
package state

// RoomContext defines the interface that a Room must implement to be driven
// by its lifecycle states. This breaks the import cycle between room and state.
type RoomContext interface {
	GetName() string
	PlayerCount() int
	BallCount() int
	ChangeState(newState State) error
}
