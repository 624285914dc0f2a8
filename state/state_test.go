package state

import (
	"os"
	"testing"

	"github.com/markus-fitmoji/orbital-match-colyseus/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

// MockState is a test double for the State interface.
// It helps us track which methods have been called.
type MockState struct {
	ID             string
	OnEnterCalled  bool
	OnExitCalled   bool
	OnUpdateCalled bool
}

func (m *MockState) OnEnter() {
	m.OnEnterCalled = true
}

func (m *MockState) OnExit() {
	m.OnExitCalled = true
}

func (m *MockState) OnUpdate() {
	m.OnUpdateCalled = true
}

func (m *MockState) GetID() string {
	return m.ID
}

// reset clears the call tracking flags.
func (m *MockState) reset() {
	m.OnEnterCalled = false
	m.OnExitCalled = false
	m.OnUpdateCalled = false
}

// mockRoom implements RoomContext for lifecycle state tests.
type mockRoom struct {
	name    string
	players int
	balls   int
	machine *BaseStateMachine
}

func (r *mockRoom) GetName() string  { return r.name }
func (r *mockRoom) PlayerCount() int { return r.players }
func (r *mockRoom) BallCount() int   { return r.balls }
func (r *mockRoom) ChangeState(s State) error {
	return r.machine.ChangeState(s)
}

func TestStateMachine_InitialState(t *testing.T) {
	initialState := &MockState{ID: "initial"}
	sm := NewBaseStateMachine(initialState)

	if !initialState.OnEnterCalled {
		t.Error("Expected OnEnter to be called on the initial state")
	}

	if sm.GetCurrentState() != initialState {
		t.Error("GetCurrentState should return the initial state")
	}
}

func TestStateMachine_ChangeState(t *testing.T) {
	initialState := &MockState{ID: "initial"}
	nextState := &MockState{ID: "next"}

	sm := NewBaseStateMachine(initialState)
	initialState.reset() // Reset after initialization

	err := sm.ChangeState(nextState)
	if err != nil {
		t.Fatalf("ChangeState should not return an error, but got: %v", err)
	}

	if !initialState.OnExitCalled {
		t.Error("Expected OnExit to be called on the old state")
	}

	if !nextState.OnEnterCalled {
		t.Error("Expected OnEnter to be called on the new state")
	}

	if sm.GetCurrentState() != nextState {
		t.Error("GetCurrentState should return the new state")
	}
}

func TestStateMachine_AddAndUseTransition(t *testing.T) {
	stateA := &MockState{ID: "A"}
	stateB := &MockState{ID: "B"}
	stateC := &MockState{ID: "C"}

	sm := NewBaseStateMachine(stateA)

	// Add a valid transition from A to B
	err := sm.AddTransition(stateA, stateB, func() bool { return true })
	if err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}

	// Add a blocked transition from B to C
	err = sm.AddTransition(stateB, stateC, func() bool { return false })
	if err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}

	// --- Test valid transition ---
	stateA.reset()
	err = sm.ChangeState(stateB)
	if err != nil {
		t.Errorf("Expected transition from A to B to be allowed, but got error: %v", err)
	}
	if sm.GetCurrentState().GetID() != "B" {
		t.Errorf("Expected current state to be B, but got %s", sm.GetCurrentState().GetID())
	}

	// --- Test blocked transition ---
	stateB.reset()
	err = sm.ChangeState(stateC)
	if err != ErrTransitionNotAllowed {
		t.Errorf("Expected ErrTransitionNotAllowed, but got: %v", err)
	}
	if sm.GetCurrentState().GetID() != "B" {
		t.Errorf("Expected current state to remain B after a blocked transition, but got %s", sm.GetCurrentState().GetID())
	}
	if stateB.OnExitCalled {
		t.Error("OnExit should not be called on the current state if transition is blocked")
	}
	if stateC.OnEnterCalled {
		t.Error("OnEnter should not be called on the new state if transition is blocked")
	}
}

func TestRoomLifecycle_EmptyActiveFlip(t *testing.T) {
	room := &mockRoom{name: "room-test"}
	room.machine = NewBaseStateMachine(NewEmptyState(room))

	room.machine.GetCurrentState().OnUpdate()
	if got := room.machine.GetCurrentState().GetID(); got != StateEmpty {
		t.Fatalf("room with no players should stay empty, got %s", got)
	}

	room.players = 2
	room.machine.GetCurrentState().OnUpdate()
	if got := room.machine.GetCurrentState().GetID(); got != StateActive {
		t.Fatalf("room with players should become active, got %s", got)
	}

	room.players = 0
	room.machine.GetCurrentState().OnUpdate()
	if got := room.machine.GetCurrentState().GetID(); got != StateEmpty {
		t.Fatalf("drained room should fall back to empty, got %s", got)
	}
}

func TestRoomLifecycle_DisposedIsTerminal(t *testing.T) {
	room := &mockRoom{name: "room-test"}
	disposed := NewDisposedState(room)
	room.machine = NewBaseStateMachine(disposed)

	blocked := func() bool { return false }
	room.machine.AddTransition(disposed, NewEmptyState(room), blocked)
	room.machine.AddTransition(disposed, NewActiveState(room), blocked)

	if err := room.machine.ChangeState(NewActiveState(room)); err != ErrTransitionNotAllowed {
		t.Errorf("disposed room must not reactivate, got %v", err)
	}
	if got := room.machine.GetCurrentState().GetID(); got != StateDisposed {
		t.Errorf("expected state to remain disposed, got %s", got)
	}
}
