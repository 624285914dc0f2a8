package rpc

import (
	"encoding/json"
	"fmt"
	"net"
	"net/rpc"

	"github.com/markus-fitmoji/orbital-match-colyseus/broadcast"
	"github.com/markus-fitmoji/orbital-match-colyseus/logger"
	"github.com/markus-fitmoji/orbital-match-colyseus/models"
	"github.com/markus-fitmoji/orbital-match-colyseus/network"
	"github.com/markus-fitmoji/orbital-match-colyseus/persistence"
	"github.com/markus-fitmoji/orbital-match-colyseus/room"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
}

// NewServer creates a new RPC server. Services are registered by the
// caller before Start.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// AdminService 运维侧的检查接口，暴露房间快照与用户绑定
//
// Methods follow the net/rpc signature: exported method, exported
// arguments, second argument is a pointer, return type is error.
type AdminService struct {
	registry    *room.Registry
	store       persistence.Store
	broadcaster broadcast.Broadcaster
}

// NewAdminService creates a new AdminService.
func NewAdminService(registry *room.Registry, store persistence.Store, b broadcast.Broadcaster) *AdminService {
	return &AdminService{registry: registry, store: store, broadcaster: b}
}

type GetRoomStateArgs struct {
	RoomName string
}

type GetRoomStateReply struct {
	Snapshot *models.RoomSnapshot
	Players  int
	Live     bool
}

// GetRoomState returns the room's current snapshot. Live rooms answer
// from memory through the command queue; parked rooms from the store.
func (as *AdminService) GetRoomState(args *GetRoomStateArgs, reply *GetRoomStateReply) error {
	if r, exists := as.registry.GetRoom(args.RoomName); exists {
		snap, err := r.Snapshot()
		if err != nil {
			return err
		}
		reply.Snapshot = snap
		reply.Players = r.PlayerCount()
		reply.Live = true
		return nil
	}

	if as.store == nil {
		return fmt.Errorf("room %s not found", args.RoomName)
	}
	snap, err := as.store.LoadRoomState(args.RoomName)
	if err != nil {
		return err
	}
	reply.Snapshot = snap
	return nil
}

type GetAssignmentArgs struct {
	UserID string
}

type GetAssignmentReply struct {
	Assignment *models.RoomAssignment
}

// GetAssignment looks up the user's active room binding.
func (as *AdminService) GetAssignment(args *GetAssignmentArgs, reply *GetAssignmentReply) error {
	if as.store == nil {
		return fmt.Errorf("no store configured")
	}
	a, err := as.store.GetActiveAssignment(args.UserID)
	if err != nil {
		return err
	}
	reply.Assignment = a
	return nil
}

type ListRoomsArgs struct{}

type RoomInfo struct {
	RoomName    string
	LivePlayers int
	Balls       int
	Score       uint64
}

type ListRoomsReply struct {
	Rooms []RoomInfo
}

// ListRooms reports every active room with live counts. Ball and score
// figures go through the room's command queue, never its private state.
func (as *AdminService) ListRooms(args *ListRoomsArgs, reply *ListRoomsReply) error {
	if as.store == nil {
		return fmt.Errorf("no store configured")
	}
	records, err := as.store.ListActiveRooms()
	if err != nil {
		return err
	}

	reply.Rooms = make([]RoomInfo, 0, len(records))
	for _, rec := range records {
		info := RoomInfo{RoomName: rec.RoomName}
		if r, exists := as.registry.GetRoom(rec.RoomName); exists {
			info.LivePlayers = r.PlayerCount()
			if snap, err := r.Snapshot(); err == nil {
				info.Balls = len(snap.Balls)
				info.Score = snap.Score
			}
		}
		reply.Rooms = append(reply.Rooms, info)
	}
	return nil
}

type NotifyUserArgs struct {
	UserID  string
	Message string
}

type NotifyUserReply struct{}

// NotifyUser pushes an operational notice to every session of one user.
func (as *AdminService) NotifyUser(args *NotifyUserArgs, reply *NotifyUserReply) error {
	if as.broadcaster == nil {
		return fmt.Errorf("no broadcaster configured")
	}
	data, err := json.Marshal(models.ServerNotice{Message: args.Message})
	if err != nil {
		return err
	}
	return as.broadcaster.BroadcastToUsers([]string{args.UserID}, network.MsgTypeServerNotice, data)
}
