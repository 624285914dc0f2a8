package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	MsgTypeHeartbeat       = 1
	MsgTypeFindRoom        = 101
	MsgTypeJoinRoom        = 102
	MsgTypeRoomAssigned    = 103
	MsgTypeRoomError       = 104
	MsgTypeDropBall        = 201
	MsgTypeResetGame       = 202
	MsgTypeGameStateUpdate = 301
	MsgTypeBallsPopped     = 302
	MsgTypeGameReset       = 303
	MsgTypeServerNotice    = 304
)

var sendMutex sync.Mutex

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, data []byte) error {
	packet := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint16(packet[2:4], uint16(len(data)))
	copy(packet[4:], data)

	sendMutex.Lock()
	defer sendMutex.Unlock()
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

func sendJSON(c *websocket.Conn, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return send(c, msgID, data)
}

func main() {
	userID := "demo"
	if len(os.Args) > 1 {
		userID = os.Args[1]
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: "localhost:8080", Path: "/ws"}
	log.Printf("Connecting to %s as %s", u.String(), userID)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop. State updates arrive every tick, so only changes are
	// printed; events are always printed.
	go func() {
		defer close(done)

		var lastScore uint64
		lastBalls := -1

		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			if len(message) < 4 {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			msgID := binary.BigEndian.Uint16(message[0:2])
			data := message[4:]

			switch msgID {
			case MsgTypeRoomAssigned:
				var assigned struct {
					RoomName string `json:"roomName"`
				}
				if err := json.Unmarshal(data, &assigned); err != nil {
					continue
				}
				log.Printf("<- Assigned to room %s, joining...", assigned.RoomName)
				join := map[string]string{
					"roomName": assigned.RoomName,
					"userId":   userID,
					"name":     userID,
				}
				if err := sendJSON(c, MsgTypeJoinRoom, join); err != nil {
					log.Println("Write error:", err)
					return
				}
			case MsgTypeRoomError:
				log.Printf("<- Room error: %s", string(data))
			case MsgTypeGameStateUpdate:
				var state struct {
					Balls         []json.RawMessage `json:"balls"`
					Score         uint64            `json:"score"`
					NextBallColor string            `json:"nextBallColor"`
				}
				if err := json.Unmarshal(data, &state); err != nil {
					continue
				}
				if len(state.Balls) != lastBalls || state.Score != lastScore {
					lastBalls = len(state.Balls)
					lastScore = state.Score
					log.Printf("<- State: %d balls, score %d, next color %s",
						len(state.Balls), state.Score, state.NextBallColor)
				}
			case MsgTypeBallsPopped:
				log.Printf("<- POP! %s", string(data))
			case MsgTypeGameReset:
				log.Println("<- Game reset")
			case MsgTypeServerNotice:
				log.Printf("<- Notice: %s", string(data))
			default:
				log.Printf("<- RECV (ID: %d): %s", msgID, string(data))
			}
		}
	}()

	// Heartbeat keeps the server-side read deadline fresh.
	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := send(c, MsgTypeHeartbeat, []byte{}); err != nil {
					return
				}
			}
		}
	}()

	// Find a room automatically
	log.Println("Sending Find Room request...")
	find := map[string]string{"userId": userID, "name": userID}
	if err := sendJSON(c, MsgTypeFindRoom, find); err != nil {
		log.Println("Write error:", err)
		return
	}

	log.Println("Client started. Commands: 'drop <x> <color>', 'reset', 'quit'.")

	// Write loop
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		default:
			text, _ := reader.ReadString('\n')
			fields := strings.Fields(text)
			if len(fields) == 0 {
				continue
			}

			switch fields[0] {
			case "drop":
				x := 400.0
				color := ""
				if len(fields) > 1 {
					if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
						x = v
					}
				}
				if len(fields) > 2 {
					color = fields[2]
				}
				drop := map[string]interface{}{"x": x, "color": color}
				if err := sendJSON(c, MsgTypeDropBall, drop); err != nil {
					log.Println("Write error:", err)
					return
				}
				log.Printf("-> SENT: drop at x=%.0f", x)
			case "reset":
				if err := sendJSON(c, MsgTypeResetGame, map[string]string{}); err != nil {
					log.Println("Write error:", err)
					return
				}
				log.Println("-> SENT: reset")
			case "quit":
				return
			}
		}
	}
}
