package room

import (
	"testing"

	"github.com/markus-fitmoji/orbital-match-colyseus/models"
	"github.com/markus-fitmoji/orbital-match-colyseus/persistence"
)

func TestGetOrCreateReturnsSameInstance(t *testing.T) {
	reg := NewRegistry(persistence.NewMemoryStore(), nil, nil, 4, true)
	defer reg.Shutdown()

	r1 := reg.GetOrCreate("room-alpha")
	r2 := reg.GetOrCreate("room-alpha")

	if r1 != r2 {
		t.Errorf("same name must map to the same room instance")
	}
	if reg.RoomCount() != 1 {
		t.Errorf("expected 1 room, got %d", reg.RoomCount())
	}
}

func TestGetOrCreateRestoresSnapshot(t *testing.T) {
	store := persistence.NewMemoryStore()
	saved := &models.RoomSnapshot{
		Balls: []models.BallState{
			{ID: 3, X: 100, Y: 500, Color: "blue"},
			{ID: 7, X: 400, Y: 500, Color: "green"},
		},
		Score:         70,
		NextBallColor: "orange",
		BallIDCounter: 9,
	}
	if err := store.SaveRoomState("room-beta", saved, 0); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	reg := NewRegistry(store, nil, nil, 4, true)
	defer reg.Shutdown()

	r := reg.GetOrCreate("room-beta")

	// The room's loop is live, so inspect through the command queue.
	// Two balls can never form a group, so the count is stable even
	// while the simulation runs; positions are not.
	snap, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Score != 70 {
		t.Errorf("expected restored score 70, got %d", snap.Score)
	}
	if len(snap.Balls) != 2 {
		t.Fatalf("expected 2 restored balls, got %d", len(snap.Balls))
	}
	if snap.Balls[0].ID != 3 || snap.Balls[1].ID != 7 {
		t.Errorf("restored ball ids drifted: %d, %d", snap.Balls[0].ID, snap.Balls[1].ID)
	}
	if snap.BallIDCounter != 9 {
		t.Errorf("expected restored counter 9, got %d", snap.BallIDCounter)
	}
	if snap.NextBallColor != "orange" {
		t.Errorf("expected restored hint orange, got %s", snap.NextBallColor)
	}
}

func TestDisposeDeactivatesStoredRoom(t *testing.T) {
	store := persistence.NewMemoryStore()
	reg := NewRegistry(store, nil, nil, 4, true)
	defer reg.Shutdown()

	reg.GetOrCreate("room-gamma")
	reg.Dispose("room-gamma")

	if _, exists := reg.GetRoom("room-gamma"); exists {
		t.Errorf("disposed room must leave the registry")
	}

	records, err := store.ListActiveRooms()
	if err != nil {
		t.Fatalf("ListActiveRooms failed: %v", err)
	}
	for _, rec := range records {
		if rec.RoomName == "room-gamma" {
			t.Errorf("disposed room must be deactivated in the store")
		}
	}
}

func TestLivePlayerCountUnknownRoom(t *testing.T) {
	reg := NewRegistry(nil, nil, nil, 4, true)
	defer reg.Shutdown()

	if n := reg.LivePlayerCount("room-nowhere"); n != 0 {
		t.Errorf("unknown room should count 0 players, got %d", n)
	}
}

func TestShutdownDisposesEverything(t *testing.T) {
	store := persistence.NewMemoryStore()
	reg := NewRegistry(store, nil, nil, 4, true)

	reg.GetOrCreate("room-one")
	reg.GetOrCreate("room-two")
	reg.Shutdown()

	if reg.RoomCount() != 0 {
		t.Errorf("shutdown must drain the registry, got %d rooms", reg.RoomCount())
	}

	records, err := store.ListActiveRooms()
	if err != nil {
		t.Fatalf("ListActiveRooms failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("shutdown must deactivate all rooms, %d still active", len(records))
	}
}
