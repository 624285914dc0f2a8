package server

import (
	"encoding/json"
	"net/http"
	"net/rpc"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/markus-fitmoji/orbital-match-colyseus/broadcast"
	"github.com/markus-fitmoji/orbital-match-colyseus/logger"
	"github.com/markus-fitmoji/orbital-match-colyseus/models"
	"github.com/markus-fitmoji/orbital-match-colyseus/monitor"
	"github.com/markus-fitmoji/orbital-match-colyseus/network"
	"github.com/markus-fitmoji/orbital-match-colyseus/persistence"
	"github.com/markus-fitmoji/orbital-match-colyseus/room"
	"github.com/markus-fitmoji/orbital-match-colyseus/services"
	"github.com/markus-fitmoji/orbital-match-colyseus/session"
	"github.com/markus-fitmoji/orbital-match-colyseus/timer"
	admin_rpc "github.com/markus-fitmoji/orbital-match-colyseus/rpc"
)

const heartbeatInterval = 30 * time.Second

type GameServer struct {
	addr           string
	upgrader       websocket.Upgrader
	registry       *room.Registry
	sessionManager *session.Manager
	matchmaker     *services.Matchmaker
	broadcaster    broadcast.Broadcaster
	rpcServer      *admin_rpc.Server
	mon            *monitor.Monitor
	shutdownChan   chan struct{}
}

func NewGameServer(addr, rpcAddr string, store persistence.Store, timers *timer.TimerManager, mon *monitor.Monitor, maxPlayers int, wildcards bool) *GameServer {
	s := &GameServer{
		addr:           addr,
		registry:       room.NewRegistry(store, timers, mon, maxPlayers, wildcards),
		sessionManager: session.NewManager(),
		mon:            mon,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	// 初始化广播器，必须先于任何房间创建
	s.broadcaster = broadcast.NewRoomBroadcaster(s.registry, s.sessionManager)
	s.registry.SetBroadcaster(s.broadcaster)

	// 初始化匹配器
	s.matchmaker = services.NewMatchmaker(store, s.registry, maxPlayers)

	// 初始化RPC服务器
	rpcServer, err := admin_rpc.NewServer(rpcAddr)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	s.rpcServer = rpcServer

	// 注册RPC服务
	adminService := admin_rpc.NewAdminService(s.registry, store, s.broadcaster)
	rpc.Register(adminService)

	return s
}

func (s *GameServer) Start() error {
	go s.rpcServer.Start()

	http.HandleFunc("/ws", s.handleWebSocket)
	logger.Log.Infof("Game server listening on %s", s.addr)
	return http.ListenAndServe(s.addr, nil)
}

// Shutdown 通知所有客户端、停 RPC、停机全部房间（每个房间最后同步落库一次）
func (s *GameServer) Shutdown() {
	close(s.shutdownChan)

	data, err := json.Marshal(models.ServerNotice{Message: "server shutting down"})
	if err == nil {
		s.broadcaster.BroadcastToAll(network.MsgTypeServerNotice, data)
	}

	s.rpcServer.Stop()
	s.registry.Shutdown()

	for _, sess := range s.sessionManager.All() {
		sess.Close()
	}
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)
	s.mon.IncOnlinePlayers()

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.handleDisconnect(sess)
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

// handleDisconnect 断线只标记离场，玩家条目留给宽限期，房间留给注册表回收
func (s *GameServer) handleDisconnect(sess *session.Session) {
	s.sessionManager.Remove(sess.GetID())
	s.mon.DecOnlinePlayers()

	if sess.RoomName != "" {
		if r, exists := s.registry.GetRoom(sess.RoomName); exists {
			r.Leave(sess.GetID())
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	start := time.Now()
	s.mon.IncMessagesReceived()

	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.LastActive = time.Now()
		// 心跳同时续期读超时
		sess.Conn.SetHeartbeat(heartbeatInterval)
	case network.MsgTypeFindRoom:
		s.handleFindRoom(sess, packet)
	case network.MsgTypeJoinRoom:
		s.handleJoinRoom(sess, packet)
	case network.MsgTypeDropBall:
		s.handleDropBall(sess, packet)
	case network.MsgTypeResetGame:
		s.handleResetGame(sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}

	s.mon.ObserveMessageLatency(time.Since(start))
}

func (s *GameServer) handleFindRoom(sess *session.Session, packet *network.Packet) {
	var req models.FindRoomRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, "bad find_room payload")
		return
	}
	if req.UserID == "" {
		req.UserID = sess.GetID()
	}
	if req.Name == "" {
		req.Name = req.UserID
	}
	sess.UserID = req.UserID
	sess.PlayerName = req.Name

	roomName := s.matchmaker.FindOrCreateRoomForUser(req.UserID, req.Name, req.MaxPlayers)

	resp := models.RoomAssigned{
		RoomName:   roomName,
		UserID:     req.UserID,
		PlayerName: req.Name,
	}
	data, _ := json.Marshal(resp)
	sess.Send(network.MsgTypeRoomAssigned, data)

	logger.Log.Infof("Session %s matched to room %s", sess.GetID(), roomName)
}

func (s *GameServer) handleJoinRoom(sess *session.Session, packet *network.Packet) {
	var req models.JoinRoomRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, "bad join_room payload")
		return
	}
	if req.RoomName == "" {
		s.sendError(sess, "room name required")
		return
	}
	if req.UserID == "" {
		req.UserID = sess.GetID()
	}

	// 会话元数据由读协程独占写入，随后才入队
	sess.UserID = req.UserID
	sess.RoomName = req.RoomName
	if req.Name != "" {
		sess.PlayerName = req.Name
	}

	r := s.registry.GetOrCreate(req.RoomName)
	r.Join(sess, req.UserID, req.Name)

	logger.Log.Infof("Session %s joining room %s", sess.GetID(), req.RoomName)
}

func (s *GameServer) handleDropBall(sess *session.Session, packet *network.Packet) {
	r, ok := s.sessionRoom(sess)
	if !ok {
		return
	}

	var req models.DropBallRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		logger.Log.Warnf("Session %s bad drop_ball payload: %v", sess.GetID(), err)
		return
	}
	r.DropBall(sess.GetID(), req.X, req.Color)
}

func (s *GameServer) handleResetGame(sess *session.Session, packet *network.Packet) {
	r, ok := s.sessionRoom(sess)
	if !ok {
		return
	}
	r.ResetGame(sess.GetID())
}

func (s *GameServer) sessionRoom(sess *session.Session) (*room.Room, bool) {
	if sess.RoomName == "" {
		logger.Log.Warnf("Session %s sent a room command but is not in a room", sess.GetID())
		return nil, false
	}

	r, exists := s.registry.GetRoom(sess.RoomName)
	if !exists {
		logger.Log.Errorf("Room %s not found for session %s", sess.RoomName, sess.GetID())
		return nil, false
	}
	return r, true
}

func (s *GameServer) sendError(sess *session.Session, msg string) {
	data, err := json.Marshal(models.RoomError{Message: msg})
	if err != nil {
		return
	}
	sess.Send(network.MsgTypeRoomError, data)
}
