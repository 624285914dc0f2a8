package room

import (
	"encoding/json"
	"math/rand"
	"net"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/markus-fitmoji/orbital-match-colyseus/logger"
	"github.com/markus-fitmoji/orbital-match-colyseus/models"
	"github.com/markus-fitmoji/orbital-match-colyseus/network"
	"github.com/markus-fitmoji/orbital-match-colyseus/persistence"
	"github.com/markus-fitmoji/orbital-match-colyseus/physics"
	"github.com/markus-fitmoji/orbital-match-colyseus/session"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

// --- test doubles ---

// fakeBody is a scripted physics body; tests position it directly.
type fakeBody struct {
	x, y   float64
	vx, vy float64
	angle  float64
	angVel float64
	asleep bool
	woken  bool
}

func (b *fakeBody) Position() (float64, float64) { return b.x, b.y }
func (b *fakeBody) SetPosition(x, y float64)     { b.x, b.y = x, y }
func (b *fakeBody) Velocity() (float64, float64) { return b.vx, b.vy }
func (b *fakeBody) SetVelocity(vx, vy float64)   { b.vx, b.vy = vx, vy }
func (b *fakeBody) Angle() float64               { return b.angle }
func (b *fakeBody) SetAngle(a float64)           { b.angle = a }
func (b *fakeBody) AngularVelocity() float64     { return b.angVel }
func (b *fakeBody) SetAngularVelocity(w float64) { b.angVel = w }
func (b *fakeBody) IsSleeping() bool             { return b.asleep }
func (b *fakeBody) Wake()                        { b.asleep = false; b.woken = true }

// fakeWorld implements physics.World with no actual simulation.
type fakeWorld struct {
	bodies map[*fakeBody]bool
	steps  int
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{bodies: make(map[*fakeBody]bool)}
}

func (w *fakeWorld) AddBall(x, y float64) physics.Body {
	b := &fakeBody{x: x, y: y}
	w.bodies[b] = true
	return b
}

func (w *fakeWorld) RemoveBall(b physics.Body) {
	if fb, ok := b.(*fakeBody); ok {
		delete(w.bodies, fb)
	}
}

func (w *fakeWorld) Step(dt float64) { w.steps++ }

// MockConnection records packets sent to one client.
type MockConnection struct {
	mutex sync.Mutex
	sent  map[uint16]int
}

func NewMockConnection() *MockConnection {
	return &MockConnection{sent: make(map[uint16]int)}
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sent[msgID]++
	return nil
}
func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func (m *MockConnection) received(msgID uint16) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.sent[msgID]
}

// MockBroadcaster records everything broadcast into the room.
type MockBroadcaster struct {
	mutex  sync.Mutex
	events []broadcastEvent
}

type broadcastEvent struct {
	roomName string
	msgID    uint16
	data     []byte
}

func (b *MockBroadcaster) BroadcastToRoom(roomName string, msgID uint16, data []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.events = append(b.events, broadcastEvent{roomName, msgID, append([]byte(nil), data...)})
	return nil
}

func (b *MockBroadcaster) count(msgID uint16) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	n := 0
	for _, e := range b.events {
		if e.msgID == msgID {
			n++
		}
	}
	return n
}

func (b *MockBroadcaster) last(msgID uint16) []byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].msgID == msgID {
			return b.events[i].data
		}
	}
	return nil
}

// --- helpers ---

func newTestRoom(name string, b Broadcaster, store persistence.Store) (*Room, *fakeWorld) {
	world := newFakeWorld()
	r := NewRoom(name, Options{
		MaxPlayers:  4,
		World:       world,
		Broadcaster: b,
		Store:       store,
		Rand:        rand.New(rand.NewSource(1)),
	})
	return r, world
}

func joinTestPlayer(r *Room, sessionID, userID, name string) *MockConnection {
	conn := NewMockConnection()
	sess := session.NewSession(sessionID, conn)
	r.handleJoin(sess, userID, name)
	return conn
}

func placeBall(r *Room, id uint64, x, y float64) {
	fb := r.balls[id].body.(*fakeBody)
	fb.x, fb.y = x, y
	fb.vx, fb.vy = 0, 0
}

func runTicks(r *Room, n int) {
	for i := 0; i < n; i++ {
		r.tick()
	}
}

// --- tests ---

func TestDropAllocatesMonotonicIDs(t *testing.T) {
	r, _ := newTestRoom("room-ids", nil, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleDrop("sess-1", 100, "blue")
	r.handleDrop("sess-1", 200, "green")
	r.handleDrop("sess-1", 300, "orange")

	if r.ballIDCounter != 3 {
		t.Errorf("expected counter 3, got %d", r.ballIDCounter)
	}
	for id := uint64(1); id <= 3; id++ {
		if _, ok := r.balls[id]; !ok {
			t.Errorf("ball %d missing from registry", id)
		}
	}
}

func TestDropFromUnknownSessionIgnored(t *testing.T) {
	r, _ := newTestRoom("room-ghost", nil, nil)

	r.handleDrop("ghost", 100, "blue")
	if len(r.balls) != 0 {
		t.Errorf("drop from unknown session must be ignored, got %d balls", len(r.balls))
	}
}

func TestDropClampsXToWalls(t *testing.T) {
	r, _ := newTestRoom("room-clamp", nil, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleDrop("sess-1", -50, "blue")
	r.handleDrop("sess-1", 5000, "blue")

	radius := r.phycfg.BallRadius
	if r.balls[1].X != radius {
		t.Errorf("left clamp: expected x=%.0f, got %.0f", radius, r.balls[1].X)
	}
	if r.balls[2].X != r.phycfg.Width-radius {
		t.Errorf("right clamp: expected x=%.0f, got %.0f", r.phycfg.Width-radius, r.balls[2].X)
	}
}

func TestDropInvalidColorFallsBackToHint(t *testing.T) {
	r, _ := newTestRoom("room-color", nil, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	hint := r.nextBallColor
	r.handleDrop("sess-1", 100, "chartreuse")

	if r.balls[1].Color != hint {
		t.Errorf("invalid color should fall back to hint %s, got %s", hint, r.balls[1].Color)
	}
	if !r.balls[1].Color.IsValid() {
		t.Errorf("stored color must always be valid")
	}
}

func TestSettleFiresExactlyAtEighthFrame(t *testing.T) {
	b := &MockBroadcaster{}
	r, _ := newTestRoom("room-settle", b, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleDrop("sess-1", 100, "blue")
	r.handleDrop("sess-1", 130, "blue")
	r.handleDrop("sess-1", 160, "blue")
	placeBall(r, 1, 100, 500)
	placeBall(r, 2, 130, 500)
	placeBall(r, 3, 160, 500)

	runTicks(r, 7)
	if len(r.balls) != 3 {
		t.Fatalf("resolution must not fire before the 8th settled frame, balls=%d", len(r.balls))
	}
	if b.count(network.MsgTypeBallsPopped) != 0 {
		t.Fatal("pop event broadcast too early")
	}

	runTicks(r, 1)
	if len(r.balls) != 0 {
		t.Fatalf("resolution should fire on the 8th settled frame, balls=%d", len(r.balls))
	}
	if r.settleFrames != 0 {
		t.Errorf("settle counter should reset after resolution, got %d", r.settleFrames)
	}
}

func TestThreeBluesPopScenario(t *testing.T) {
	b := &MockBroadcaster{}
	r, world := newTestRoom("room-pop", b, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleDrop("sess-1", 100, "blue")
	r.handleDrop("sess-1", 130, "blue")
	r.handleDrop("sess-1", 160, "blue")
	placeBall(r, 1, 100, 500)
	placeBall(r, 2, 130, 500)
	placeBall(r, 3, 160, 500)

	runTicks(r, 8)

	if len(r.balls) != 0 {
		t.Fatalf("popped balls must vanish from the registry, got %d", len(r.balls))
	}
	if len(world.bodies) != 0 {
		t.Fatalf("popped bodies must leave the simulation, got %d", len(world.bodies))
	}
	if r.score != 30 {
		t.Errorf("three balls are worth 30 points, got %d", r.score)
	}

	var popped models.BallsPopped
	if err := json.Unmarshal(b.last(network.MsgTypeBallsPopped), &popped); err != nil {
		t.Fatalf("pop event not broadcast: %v", err)
	}
	if popped.Count != 3 || popped.NewScore != 30 {
		t.Errorf("expected {count:3 newScore:30}, got %+v", popped)
	}
}

func TestMovingBallResetsSettleCounter(t *testing.T) {
	r, _ := newTestRoom("room-moving", nil, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleDrop("sess-1", 100, "blue")
	r.handleDrop("sess-1", 130, "blue")
	r.handleDrop("sess-1", 160, "blue")
	placeBall(r, 1, 100, 500)
	placeBall(r, 2, 130, 500)
	placeBall(r, 3, 160, 500)

	runTicks(r, 5)
	if r.settleFrames != 5 {
		t.Fatalf("expected 5 settled frames, got %d", r.settleFrames)
	}

	// One ball starts moving fast enough to break the streak.
	r.balls[2].body.(*fakeBody).vx = 20 // 20 units/s is 0.33 units/frame
	runTicks(r, 1)
	if r.settleFrames != 0 {
		t.Errorf("moving ball must reset the settle counter, got %d", r.settleFrames)
	}
	if len(r.balls) != 3 {
		t.Errorf("no resolution should have fired")
	}
}

func TestSleepingBallsCountAsSettled(t *testing.T) {
	r, _ := newTestRoom("room-sleep", nil, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleDrop("sess-1", 100, "blue")
	r.handleDrop("sess-1", 130, "green")
	placeBall(r, 1, 100, 500)
	placeBall(r, 2, 130, 500)

	// Fast but asleep: the engine's word wins.
	fb := r.balls[1].body.(*fakeBody)
	fb.vx = 100
	fb.asleep = true
	runTicks(r, 1)
	if r.settleFrames != 1 {
		t.Errorf("sleeping ball should count as settled, got %d frames", r.settleFrames)
	}
}

func TestResetScenario(t *testing.T) {
	b := &MockBroadcaster{}
	r, world := newTestRoom("room-reset", b, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleDrop("sess-1", 100, "blue")
	r.handleDrop("sess-1", 200, "green")
	r.score = 120

	r.handleReset("sess-1")

	if len(r.balls) != 0 {
		t.Errorf("reset must clear the ball registry, got %d", len(r.balls))
	}
	if len(world.bodies) != 0 {
		t.Errorf("reset must clear the simulation, got %d bodies", len(world.bodies))
	}
	if r.score != 0 || r.ballIDCounter != 0 {
		t.Errorf("reset must zero score and counter, got score=%d counter=%d", r.score, r.ballIDCounter)
	}
	if b.count(network.MsgTypeGameReset) != 1 {
		t.Errorf("reset event should be broadcast once, got %d", b.count(network.MsgTypeGameReset))
	}
	if !r.nextBallColor.IsValid() {
		t.Errorf("reset must regenerate a valid color hint")
	}
}

func TestJoinSendsSnapshotToJoinerOnly(t *testing.T) {
	b := &MockBroadcaster{}
	r, _ := newTestRoom("room-join", b, nil)

	conn := joinTestPlayer(r, "sess-1", "user-1", "Ann")

	if conn.received(network.MsgTypeGameStateUpdate) != 1 {
		t.Errorf("joiner should receive exactly one snapshot, got %d", conn.received(network.MsgTypeGameStateUpdate))
	}
	if b.count(network.MsgTypeGameStateUpdate) != 0 {
		t.Errorf("join must not broadcast to the whole room")
	}
}

func TestJoinOnFreshRoomGetsEmptySnapshot(t *testing.T) {
	r, _ := newTestRoom("room-fresh", nil, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	update := r.buildStateUpdate()
	if len(update.Balls) != 0 || update.Score != 0 {
		t.Errorf("fresh room should be empty, got %+v", update)
	}
	if update.NextBallColor == "" {
		t.Errorf("fresh room still needs a color hint")
	}
	if len(update.Players) != 1 || !update.Players[0].Connected {
		t.Errorf("joiner should appear connected in the snapshot, got %+v", update.Players)
	}
}

func TestEmptyRoomSimulatesButDoesNotBroadcast(t *testing.T) {
	b := &MockBroadcaster{}
	r, world := newTestRoom("room-quiet", b, nil)

	runTicks(r, 5)
	if world.steps != 5 {
		t.Errorf("physics should advance in an empty room, steps=%d", world.steps)
	}
	if b.count(network.MsgTypeGameStateUpdate) != 0 {
		t.Errorf("empty room must not broadcast state")
	}

	joinTestPlayer(r, "sess-1", "user-1", "Ann")
	runTicks(r, 3)
	if b.count(network.MsgTypeGameStateUpdate) != 3 {
		t.Errorf("active room broadcasts every tick, got %d", b.count(network.MsgTypeGameStateUpdate))
	}
}

func TestRoomFullRejectsJoin(t *testing.T) {
	r, _ := newTestRoom("room-full", nil, nil)
	r.MaxPlayers = 1

	joinTestPlayer(r, "sess-1", "user-1", "Ann")
	conn2 := joinTestPlayer(r, "sess-2", "user-2", "Ben")

	if r.TotalPlayers() != 1 {
		t.Errorf("full room must not admit more players, got %d", r.TotalPlayers())
	}
	if conn2.received(network.MsgTypeRoomError) != 1 {
		t.Errorf("rejected joiner should get a room error")
	}
}

func TestLeaveKeepsEntryUntilPurge(t *testing.T) {
	r, _ := newTestRoom("room-grace", nil, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleLeave("sess-1")

	p, ok := r.getPlayer("sess-1")
	if !ok || p.Connected {
		t.Fatalf("left player should remain, marked disconnected: ok=%v", ok)
	}
	if r.PlayerCount() != 0 {
		t.Errorf("disconnected player must not count as live")
	}

	var emptied bool
	r.onEmpty = func() { emptied = true }

	r.handlePurge("sess-1")
	if r.TotalPlayers() != 0 {
		t.Errorf("purge should remove the stale entry")
	}
	if !emptied {
		t.Errorf("purging the last player should fire onEmpty")
	}
}

func TestRejoinBeforePurgeSurvives(t *testing.T) {
	r, _ := newTestRoom("room-rejoin", nil, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleLeave("sess-1")
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	// The grace timer fires regardless; the purge must notice the
	// player is back.
	r.handlePurge("sess-1")

	p, ok := r.getPlayer("sess-1")
	if !ok || !p.Connected {
		t.Errorf("reconnected player must survive a late purge")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	r, _ := newTestRoom("room-save", nil, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleDrop("sess-1", 100, "blue")
	r.handleDrop("sess-1", 200, "rainbow")
	fb := r.balls[1].body.(*fakeBody)
	fb.vx, fb.vy, fb.angle, fb.angVel = 12.5, -3.25, 1.1, 0.7
	r.syncFromWorld()
	r.score = 50

	snap := r.buildSnapshot()

	restored, _ := newTestRoom("room-save", nil, nil)
	restored.Restore(snap)

	if !reflect.DeepEqual(snap, restored.buildSnapshot()) {
		t.Errorf("restore drifted:\nsaved:    %+v\nrestored: %+v", snap, restored.buildSnapshot())
	}

	// Velocity must carry into the simulation, not just the registry.
	rb := restored.balls[1].body.(*fakeBody)
	if rb.vx != 12.5 || rb.vy != -3.25 || rb.angle != 1.1 || rb.angVel != 0.7 {
		t.Errorf("restored body lost motion state: %+v", rb)
	}
}

func TestRestoreBumpsCounterPastBallIDs(t *testing.T) {
	r, _ := newTestRoom("room-counter", nil, nil)
	r.Restore(&models.RoomSnapshot{
		Balls: []models.BallState{
			{ID: 10, X: 100, Y: 500, Color: "blue"},
		},
		BallIDCounter: 5, // inconsistent snapshot: counter behind the ids
	})

	joinTestPlayer(r, "sess-1", "user-1", "Ann")
	r.handleDrop("sess-1", 200, "green")

	if _, clash := r.balls[10]; !clash {
		t.Fatalf("restored ball vanished")
	}
	if _, ok := r.balls[11]; !ok {
		t.Errorf("next id should continue past the restored max, balls=%v", ballIDs(r))
	}
}

func TestRestoreSkipsCorruptColors(t *testing.T) {
	r, _ := newTestRoom("room-corrupt", nil, nil)
	r.Restore(&models.RoomSnapshot{
		Balls: []models.BallState{
			{ID: 1, X: 100, Y: 500, Color: "blue"},
			{ID: 2, X: 130, Y: 500, Color: "mauve"},
		},
	})

	if len(r.balls) != 1 {
		t.Errorf("corrupt ball should be skipped, got %d", len(r.balls))
	}
}

func TestPopPersistsThroughStore(t *testing.T) {
	store := persistence.NewMemoryStore()
	r, _ := newTestRoom("room-persist", nil, store)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleDrop("sess-1", 100, "blue")
	r.handleDrop("sess-1", 130, "blue")
	r.handleDrop("sess-1", 160, "blue")
	placeBall(r, 1, 100, 500)
	placeBall(r, 2, 130, 500)
	placeBall(r, 3, 160, 500)
	runTicks(r, 8)

	// Dispose drains the async save queue and writes once more.
	r.Dispose()

	snap, err := store.LoadRoomState("room-persist")
	if err != nil {
		t.Fatalf("LoadRoomState failed: %v", err)
	}
	if snap.Score != 30 || len(snap.Balls) != 0 {
		t.Errorf("persisted state should reflect the pop, got %+v", snap)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	r, _ := newTestRoom("room-dispose", nil, persistence.NewMemoryStore())
	r.Dispose()
	r.Dispose()
}

func TestWakeSetActivatesSurvivors(t *testing.T) {
	r, _ := newTestRoom("room-wake", nil, nil)
	joinTestPlayer(r, "sess-1", "user-1", "Ann")

	r.handleDrop("sess-1", 100, "blue")
	r.handleDrop("sess-1", 130, "blue")
	r.handleDrop("sess-1", 160, "blue")
	r.handleDrop("sess-1", 130, "green") // resting on top of the triple
	placeBall(r, 1, 100, 500)
	placeBall(r, 2, 130, 500)
	placeBall(r, 3, 160, 500)
	placeBall(r, 4, 130, 468)
	r.balls[4].body.(*fakeBody).asleep = true

	runTicks(r, 8)

	survivor, ok := r.balls[4]
	if !ok {
		t.Fatalf("green survivor should remain")
	}
	fb := survivor.body.(*fakeBody)
	if !fb.woken || fb.asleep {
		t.Errorf("survivor above the removal should be forced awake")
	}
}

func ballIDs(r *Room) []uint64 {
	ids := make([]uint64, 0, len(r.balls))
	for id := range r.balls {
		ids = append(ids, id)
	}
	return ids
}
