package network

const (
	MsgTypeHeartbeat = 1

	// 匹配与入房
	MsgTypeFindRoom     = 101
	MsgTypeJoinRoom     = 102
	MsgTypeRoomAssigned = 103
	MsgTypeRoomError    = 104

	// 房间内指令
	MsgTypeDropBall  = 201
	MsgTypeResetGame = 202

	// 服务端推送
	MsgTypeGameStateUpdate = 301
	MsgTypeBallsPopped     = 302
	MsgTypeGameReset       = 303
	MsgTypeServerNotice    = 304
)
