// room/room.go
package room

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markus-fitmoji/orbital-match-colyseus/game"
	"github.com/markus-fitmoji/orbital-match-colyseus/logger"
	"github.com/markus-fitmoji/orbital-match-colyseus/models"
	"github.com/markus-fitmoji/orbital-match-colyseus/monitor"
	"github.com/markus-fitmoji/orbital-match-colyseus/network"
	"github.com/markus-fitmoji/orbital-match-colyseus/persistence"
	"github.com/markus-fitmoji/orbital-match-colyseus/physics"
	"github.com/markus-fitmoji/orbital-match-colyseus/session"
	"github.com/markus-fitmoji/orbital-match-colyseus/state"
	"github.com/markus-fitmoji/orbital-match-colyseus/timer"
)

const (
	tickInterval = time.Second / 60
	// tickDT is the fixed simulation step. The real ticker may jitter,
	// the simulation always advances by exactly this much.
	tickDT = 1.0 / 60.0

	settleFramesNeed = 8
	settleEpsilon    = 0.15 // units per frame

	scorePerBall = 10
	dropHeight   = 40.0

	leaveGrace       = 30 * time.Second
	autosaveInterval = 30 * time.Second

	cmdQueueSize = 64
)

var (
	ErrRoomBusy   = errors.New("room command queue busy")
	ErrRoomClosed = errors.New("room closed")
)

// Ball 注册表中的球：物理句柄加上元数据
type Ball struct {
	ID              uint64
	Color           game.Color
	OwnerID         string
	X, Y            float64
	VX, VY          float64
	Angle           float64
	AngularVelocity float64

	body physics.Body
}

func (b *Ball) toState() models.BallState {
	return models.BallState{
		ID:              b.ID,
		X:               b.X,
		Y:               b.Y,
		Color:           string(b.Color),
		VelocityX:       b.VX,
		VelocityY:       b.VY,
		Angle:           b.Angle,
		AngularVelocity: b.AngularVelocity,
		PlayerID:        b.OwnerID,
	}
}

// Player 房间内的玩家条目，以 sessionID 为键
type Player struct {
	ID        string // session ID
	UserID    string
	Name      string
	Connected bool

	sess       *session.Session
	graceTimer int64
}

type cmdType int

const (
	cmdJoin cmdType = iota
	cmdLeave
	cmdDrop
	cmdReset
	cmdPurge
	cmdSave
	cmdSnapshot
)

type command struct {
	kind      cmdType
	sess      *session.Session
	sessionID string
	userID    string
	name      string
	x         float64
	color     string
	reply     chan *models.RoomSnapshot
}

// Options 房间依赖项
type Options struct {
	MaxPlayers    int
	Wildcards     bool
	PhysicsConfig physics.Config
	World         physics.World // nil 时按 PhysicsConfig 创建
	Store         persistence.Store
	Timers        *timer.TimerManager
	Monitor       *monitor.Monitor
	Broadcaster   Broadcaster
	Rand          *rand.Rand
}

// Room 是一个独立的物理消除游戏实例
//
// All simulation state is owned by the room's single goroutine: commands
// arrive over cmdCh and are applied strictly in arrival order between
// ticks. Only the player map is additionally lock-protected, because the
// broadcaster and the matchmaker read it from outside.
type Room struct {
	Name       string
	MaxPlayers int
	CreatedAt  time.Time

	StateMachine state.StateMachine

	world    physics.World
	phycfg   physics.Config
	resolver *game.Resolver

	balls   map[uint64]*Ball
	players map[string]*Player

	score         uint64
	nextBallColor game.Color
	ballIDCounter uint64
	settleFrames  int
	wildcards     bool

	rng *rand.Rand

	broadcaster Broadcaster
	store       persistence.Store
	timers      *timer.TimerManager
	mon         *monitor.Monitor

	cmdCh    chan command
	closeCh  chan struct{}
	loopDone chan struct{}
	started  atomic.Bool

	saveCh chan *models.RoomSnapshot
	saveWG sync.WaitGroup

	lastActivity atomic.Int64 // unix nano

	// onEmpty fires once when the last player entry is purged.
	onEmpty func()

	playerMutex sync.RWMutex
	disposeOnce sync.Once
}

// NewRoom 创建房间。仿真从 Start 调用后才开始推进。
func NewRoom(name string, opts Options) *Room {
	phycfg := opts.PhysicsConfig
	if phycfg.Width == 0 {
		phycfg = physics.DefaultConfig()
	}
	world := opts.World
	if world == nil {
		world = physics.NewWorld(phycfg)
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	maxPlayers := opts.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = 20
	}

	room := &Room{
		Name:          name,
		MaxPlayers:    maxPlayers,
		CreatedAt:     time.Now(),
		world:         world,
		phycfg:        phycfg,
		resolver:      game.NewResolver(phycfg.BallRadius),
		balls:         make(map[uint64]*Ball),
		players:       make(map[string]*Player),
		nextBallColor: game.NextColor(rng, opts.Wildcards),
		wildcards:     opts.Wildcards,
		rng:           rng,
		broadcaster:   opts.Broadcaster,
		store:         opts.Store,
		timers:        opts.Timers,
		mon:           opts.Monitor,
		cmdCh:         make(chan command, cmdQueueSize),
		closeCh:       make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	room.touch()

	// 初始化状态机，将房间自身(room)作为上下文传入
	empty := state.NewEmptyState(room)
	room.StateMachine = state.NewBaseStateMachine(empty)

	// 终态不可逆
	disposed := state.NewDisposedState(room)
	blocked := func() bool { return false }
	room.StateMachine.AddTransition(disposed, state.NewEmptyState(room), blocked)
	room.StateMachine.AddTransition(disposed, state.NewActiveState(room), blocked)

	if room.store != nil {
		room.saveCh = make(chan *models.RoomSnapshot, 1)
		room.saveWG.Add(1)
		go room.saver()
	}

	return room
}

// Start 启动房间主循环
func (r *Room) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.loop()
}

// --- 实现 state.RoomContext 接口 ---

// GetName 返回房间名
func (r *Room) GetName() string {
	return r.Name
}

// PlayerCount 返回在线玩家数
func (r *Room) PlayerCount() int {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	count := 0
	for _, p := range r.players {
		if p.Connected {
			count++
		}
	}
	return count
}

// BallCount 返回注册表中的球数
func (r *Room) BallCount() int {
	return len(r.balls)
}

// ChangeState 改变房间的状态机状态
func (r *Room) ChangeState(newState state.State) error {
	return r.StateMachine.ChangeState(newState)
}

// --- 对外接口，全部走命令队列 ---

// Join 让一个会话加入房间
func (r *Room) Join(sess *session.Session, userID, name string) {
	r.enqueue(command{kind: cmdJoin, sess: sess, userID: userID, name: name})
}

// Leave 标记会话断线，启动宽限期
func (r *Room) Leave(sessionID string) {
	r.enqueue(command{kind: cmdLeave, sessionID: sessionID})
}

// DropBall 投入一个球
func (r *Room) DropBall(sessionID string, x float64, color string) {
	r.enqueue(command{kind: cmdDrop, sessionID: sessionID, x: x, color: color})
}

// ResetGame 清场重开
func (r *Room) ResetGame(sessionID string) {
	r.enqueue(command{kind: cmdReset, sessionID: sessionID})
}

// RequestSave 请求一次异步落库
func (r *Room) RequestSave() {
	r.enqueue(command{kind: cmdSave})
}

// Snapshot 在两个 tick 之间取一致的房间快照
func (r *Room) Snapshot() (*models.RoomSnapshot, error) {
	reply := make(chan *models.RoomSnapshot, 1)
	select {
	case r.cmdCh <- command{kind: cmdSnapshot, reply: reply}:
	case <-r.closeCh:
		return nil, ErrRoomClosed
	case <-time.After(time.Second):
		return nil, ErrRoomBusy
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-r.closeCh:
		return nil, ErrRoomClosed
	case <-time.After(time.Second):
		return nil, ErrRoomBusy
	}
}

func (r *Room) enqueue(cmd command) {
	select {
	case r.cmdCh <- cmd:
	case <-r.closeCh:
	default:
		logger.Log.Warnf("Room %s command queue full, dropping command %d", r.Name, cmd.kind)
	}
}

// --- 主循环 ---

func (r *Room) loop() {
	defer close(r.loopDone)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	saveTicker := time.NewTicker(autosaveInterval)
	defer saveTicker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick()
		case cmd := <-r.cmdCh:
			r.handleCommand(cmd)
		case <-saveTicker.C:
			r.requestSave()
		case <-r.closeCh:
			return
		}
	}
}

func (r *Room) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdJoin:
		r.handleJoin(cmd.sess, cmd.userID, cmd.name)
	case cmdLeave:
		r.handleLeave(cmd.sessionID)
	case cmdDrop:
		r.handleDrop(cmd.sessionID, cmd.x, cmd.color)
	case cmdReset:
		r.handleReset(cmd.sessionID)
	case cmdPurge:
		r.handlePurge(cmd.sessionID)
	case cmdSave:
		r.requestSave()
	case cmdSnapshot:
		cmd.reply <- r.buildSnapshot()
	}
}

// tick 推进一帧：物理、沉降检测、消除、广播
func (r *Room) tick() {
	start := time.Now()

	r.world.Step(tickDT)
	r.syncFromWorld()

	if r.allSettled() {
		r.settleFrames++
	} else {
		r.settleFrames = 0
	}
	if r.settleFrames >= settleFramesNeed {
		r.settleFrames = 0
		r.resolveMatches()
	}

	// 状态机驱动 empty/active 切换
	if cur := r.StateMachine.GetCurrentState(); cur != nil {
		cur.OnUpdate()
	}

	// 空房间照常仿真但不广播
	if r.StateMachine.GetCurrentState().GetID() == state.StateActive {
		r.broadcastState()
	}

	r.mon.ObserveTick(time.Since(start))
}

func (r *Room) syncFromWorld() {
	for _, b := range r.balls {
		b.X, b.Y = b.body.Position()
		b.VX, b.VY = b.body.Velocity()
		b.Angle = b.body.Angle()
		b.AngularVelocity = b.body.AngularVelocity()
	}
}

// allSettled reports whether every ball is asleep or moving less than
// settleEpsilon per frame.
func (r *Room) allSettled() bool {
	for _, b := range r.balls {
		if b.body.IsSleeping() {
			continue
		}
		if math.Hypot(b.VX, b.VY)*tickDT >= settleEpsilon {
			return false
		}
	}
	return true
}

func (r *Room) resolveMatches() {
	if len(r.balls) < 3 {
		return
	}

	infos := make([]game.BallInfo, 0, len(r.balls))
	for _, b := range r.balls {
		infos = append(infos, game.BallInfo{ID: b.ID, X: b.X, Y: b.Y, Color: b.Color})
	}

	res := r.resolver.Resolve(infos)
	if res.Popped == 0 {
		return
	}

	for _, id := range res.Removed {
		if b, ok := r.balls[id]; ok {
			r.world.RemoveBall(b.body)
			delete(r.balls, id)
		}
	}
	for _, id := range res.WakeIDs {
		if b, ok := r.balls[id]; ok {
			b.body.Wake()
		}
	}

	r.score += uint64(res.Popped) * scorePerBall
	r.mon.AddBallsPopped(res.Popped)
	logger.Log.Infof("Room %s popped %d balls in %d groups, score=%d",
		r.Name, res.Popped, len(res.Groups), r.score)

	r.broadcastEvent(network.MsgTypeBallsPopped, models.BallsPopped{
		Count:    res.Popped,
		NewScore: r.score,
	})
	r.requestSave()
}

// --- 命令处理 ---

func (r *Room) handleJoin(sess *session.Session, userID, name string) {
	if sess == nil {
		return
	}

	r.playerMutex.Lock()
	p, exists := r.players[sess.ID]
	if exists {
		p.Connected = true
		p.sess = sess
		if name != "" {
			p.Name = name
		}
	} else {
		if r.connectedLocked() >= r.MaxPlayers {
			r.playerMutex.Unlock()
			r.sendError(sess, "room is full")
			return
		}
		p = &Player{
			ID:        sess.ID,
			UserID:    userID,
			Name:      name,
			Connected: true,
			sess:      sess,
		}
		r.players[sess.ID] = p
	}
	r.playerMutex.Unlock()

	// 重连则取消遗留的宽限定时器
	if p.graceTimer != 0 && r.timers != nil {
		r.timers.RemoveTimer(p.graceTimer)
		p.graceTimer = 0
	}

	r.touch()

	// 完整快照只发给新加入的客户端
	data, err := json.Marshal(r.buildStateUpdate())
	if err == nil {
		if err := sess.Send(network.MsgTypeGameStateUpdate, data); err != nil {
			logger.Log.Warnf("Room %s initial snapshot to %s failed: %v", r.Name, sess.ID, err)
		}
	}

	logger.Log.Infof("Player %s (session %s) joined room %s", p.Name, sess.ID, r.Name)
}

func (r *Room) handleLeave(sessionID string) {
	r.playerMutex.Lock()
	p, exists := r.players[sessionID]
	if exists {
		p.Connected = false
		p.sess = nil
	}
	r.playerMutex.Unlock()

	if !exists {
		logger.Log.Debugf("Room %s leave for unknown session %s", r.Name, sessionID)
		return
	}

	r.touch()

	// 宽限期内重连可以保住玩家条目
	if r.timers != nil {
		p.graceTimer = r.timers.AddTimer(leaveGrace, 0, func() {
			r.enqueue(command{kind: cmdPurge, sessionID: sessionID})
		})
	}

	logger.Log.Infof("Player session %s left room %s, purge in %s", sessionID, r.Name, leaveGrace)
}

func (r *Room) handlePurge(sessionID string) {
	r.playerMutex.Lock()
	p, exists := r.players[sessionID]
	// 定时器投递是异步的，这里必须重查在线标记
	stale := exists && !p.Connected
	if stale {
		delete(r.players, sessionID)
	}
	remaining := len(r.players)
	r.playerMutex.Unlock()

	if !stale {
		return
	}

	logger.Log.Infof("Player session %s purged from room %s after grace period", sessionID, r.Name)
	r.requestSave()

	if remaining == 0 && r.onEmpty != nil {
		r.onEmpty()
	}
}

func (r *Room) handleDrop(sessionID string, x float64, colorStr string) {
	if _, ok := r.getPlayer(sessionID); !ok {
		logger.Log.Warnf("Room %s drop from unknown session %s", r.Name, sessionID)
		return
	}

	color := game.Color(colorStr)
	if !color.IsValid() {
		// 客户端颜色不可信时退回服务端的提示颜色
		color = r.nextBallColor
	}

	r.spawnBall(x, color, sessionID)
	r.nextBallColor = game.NextColor(r.rng, r.wildcards)
	r.touch()
	r.mon.AddBallDropped()
	r.requestSave()
}

func (r *Room) handleReset(sessionID string) {
	if sessionID != "" {
		if _, ok := r.getPlayer(sessionID); !ok {
			logger.Log.Warnf("Room %s reset from unknown session %s", r.Name, sessionID)
			return
		}
	}

	for id, b := range r.balls {
		r.world.RemoveBall(b.body)
		delete(r.balls, id)
	}
	r.score = 0
	r.ballIDCounter = 0
	r.settleFrames = 0
	r.nextBallColor = game.NextColor(r.rng, r.wildcards)
	r.touch()

	r.broadcastEvent(network.MsgTypeGameReset, models.GameReset{})
	r.requestSave()

	logger.Log.Infof("Room %s reset", r.Name)
}

func (r *Room) spawnBall(x float64, color game.Color, ownerID string) *Ball {
	radius := r.phycfg.BallRadius
	if x < radius {
		x = radius
	}
	if x > r.phycfg.Width-radius {
		x = r.phycfg.Width - radius
	}

	r.ballIDCounter++
	id := r.ballIDCounter

	body := r.world.AddBall(x, dropHeight)
	ball := &Ball{
		ID:      id,
		Color:   color,
		OwnerID: ownerID,
		X:       x,
		Y:       dropHeight,
		body:    body,
	}
	r.balls[id] = ball
	return ball
}

// --- 快照与广播 ---

func (r *Room) buildSnapshot() *models.RoomSnapshot {
	balls := make([]models.BallState, 0, len(r.balls))
	for _, b := range r.balls {
		balls = append(balls, b.toState())
	}
	sort.Slice(balls, func(i, j int) bool { return balls[i].ID < balls[j].ID })

	return &models.RoomSnapshot{
		Balls:         balls,
		Score:         r.score,
		NextBallColor: string(r.nextBallColor),
		BallIDCounter: r.ballIDCounter,
	}
}

func (r *Room) buildStateUpdate() *models.GameStateUpdate {
	snap := r.buildSnapshot()

	r.playerMutex.RLock()
	players := make([]models.PlayerState, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, models.PlayerState{
			ID:        p.ID,
			Name:      p.Name,
			Connected: p.Connected,
		})
	}
	r.playerMutex.RUnlock()
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })

	return &models.GameStateUpdate{
		Balls:         snap.Balls,
		Score:         snap.Score,
		NextBallColor: snap.NextBallColor,
		Players:       players,
	}
}

func (r *Room) broadcastState() {
	if r.broadcaster == nil {
		return
	}
	data, err := json.Marshal(r.buildStateUpdate())
	if err != nil {
		logger.Log.Errorf("Room %s state marshal failed: %v", r.Name, err)
		return
	}
	r.broadcaster.BroadcastToRoom(r.Name, network.MsgTypeGameStateUpdate, data)
}

func (r *Room) broadcastEvent(msgID uint16, v interface{}) {
	if r.broadcaster == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorf("Room %s event %d marshal failed: %v", r.Name, msgID, err)
		return
	}
	r.broadcaster.BroadcastToRoom(r.Name, msgID, data)
}

func (r *Room) sendError(sess *session.Session, msg string) {
	data, err := json.Marshal(models.RoomError{Message: msg})
	if err != nil {
		return
	}
	sess.Send(network.MsgTypeRoomError, data)
}

// --- 持久化 ---

// requestSave hands the latest snapshot to the saver goroutine. The
// queue holds one pending snapshot; a newer one replaces it instead of
// blocking the simulation.
func (r *Room) requestSave() {
	if r.saveCh == nil {
		return
	}
	snap := r.buildSnapshot()

	select {
	case r.saveCh <- snap:
		return
	default:
	}
	select {
	case <-r.saveCh:
	default:
	}
	select {
	case r.saveCh <- snap:
	default:
	}
}

func (r *Room) saver() {
	defer r.saveWG.Done()
	for snap := range r.saveCh {
		if err := r.store.SaveRoomState(r.Name, snap, r.PlayerCount()); err != nil {
			r.mon.AddSaveFailure()
			logger.Log.Errorf("Room %s save failed: %v", r.Name, err)
		}
	}
}

// Restore rebuilds balls from a persisted snapshot, preserving velocity
// and spin so the resumed simulation carries on without a jump. Call
// before Start.
func (r *Room) Restore(snap *models.RoomSnapshot) {
	if snap == nil {
		return
	}

	for _, bs := range snap.Balls {
		color := game.Color(bs.Color)
		if !color.IsValid() {
			logger.Log.Warnf("Room %s snapshot ball %d has bad color %q, skipping", r.Name, bs.ID, bs.Color)
			continue
		}

		body := r.world.AddBall(bs.X, bs.Y)
		body.SetVelocity(bs.VelocityX, bs.VelocityY)
		body.SetAngle(bs.Angle)
		body.SetAngularVelocity(bs.AngularVelocity)

		r.balls[bs.ID] = &Ball{
			ID:              bs.ID,
			Color:           color,
			OwnerID:         bs.PlayerID,
			X:               bs.X,
			Y:               bs.Y,
			VX:              bs.VelocityX,
			VY:              bs.VelocityY,
			Angle:           bs.Angle,
			AngularVelocity: bs.AngularVelocity,
			body:            body,
		}
		if bs.ID > r.ballIDCounter {
			r.ballIDCounter = bs.ID
		}
	}

	r.score = snap.Score
	if snap.BallIDCounter > r.ballIDCounter {
		r.ballIDCounter = snap.BallIDCounter
	}
	if c := game.Color(snap.NextBallColor); c.IsValid() {
		r.nextBallColor = c
	}
}

// --- 杂项 ---

func (r *Room) getPlayer(sessionID string) (*Player, bool) {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()
	p, exists := r.players[sessionID]
	return p, exists
}

// GetSessions returns the live sessions in the room (thread-safe).
func (r *Room) GetSessions() []*session.Session {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	sessions := make([]*session.Session, 0, len(r.players))
	for _, p := range r.players {
		if p.Connected && p.sess != nil {
			sessions = append(sessions, p.sess)
		}
	}
	return sessions
}

func (r *Room) connectedLocked() int {
	count := 0
	for _, p := range r.players {
		if p.Connected {
			count++
		}
	}
	return count
}

// TotalPlayers 含宽限期内的断线玩家
func (r *Room) TotalPlayers() int {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()
	return len(r.players)
}

func (r *Room) touch() {
	r.lastActivity.Store(time.Now().UnixNano())
}

// IdleFor 返回距最近一次玩家活动的时长
func (r *Room) IdleFor() time.Duration {
	return time.Since(time.Unix(0, r.lastActivity.Load()))
}

// Dispose 停机：停循环、排空存盘队列、最后同步落库一次
func (r *Room) Dispose() {
	r.disposeOnce.Do(func() {
		close(r.closeCh)
		if r.started.Load() {
			<-r.loopDone
		}

		if r.saveCh != nil {
			close(r.saveCh)
			r.saveWG.Wait()
		}

		r.StateMachine.ChangeState(state.NewDisposedState(r))

		if r.store != nil {
			if err := r.store.SaveRoomState(r.Name, r.buildSnapshot(), 0); err != nil {
				logger.Log.Errorf("Room %s final save failed: %v", r.Name, err)
			}
			if err := r.store.DeactivateRoom(r.Name); err != nil {
				logger.Log.Errorf("Room %s deactivate failed: %v", r.Name, err)
			}
		}
	})
}
