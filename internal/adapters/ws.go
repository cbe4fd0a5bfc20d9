package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ThunderSpear21/NeonTetris/internal/app"
	"github.com/ThunderSpear21/NeonTetris/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	// TODO: restrict origins once the client origin list is settled.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSConn is a transport endpoint over one gorilla connection. It
// implements app.Sink; a full send buffer fails fast rather than block
// the fanout path. Fanout goroutines may still hold the sink when its
// socket dies, so TrySend and Close serialize on the mutex: a send can
// never hit the channel after Close has closed it.
type WSConn struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
}

func (c *WSConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *WSConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

// WSController authenticates sockets and pumps their frames. Room
// membership on the wire is the registry's concern; game state never
// lives here.
type WSController struct {
	Registry  *app.Registry
	Secret    string
	ReadLimit int64
}

// clientMessage is the envelope clients send; anything unparseable or
// unrecognized is dropped without closing the connection.
type clientMessage struct {
	Event   string `json:"event"`
	Payload struct {
		RoomCode string `json:"roomCode"`
		UserID   string `json:"userId"`
	} `json:"payload"`
}

// Handle upgrades the connection, authenticates it from the token query
// parameter, registers the socket and starts its pumps. A bad token
// closes the socket with a policy-violation close code; the server
// never retries.
func (ctl *WSController) Handle(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Msg("upgrade failed")
		return
	}

	userID, _, err := identityFromToken(c.Query("token"), ctl.Secret)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid authentication token")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := NewWSConn(ws)
	ctl.Registry.Register(userID, conn)
	log.Info().Str("module", "adapters.ws").Str("user", userID).Str("conn", conn.id).Msg("socket connected")

	connCtx, cancel := context.WithCancel(ctx)
	go ctl.writePump(connCtx, conn)
	go ctl.readPump(connCtx, cancel, userID, conn)
}

func (ctl *WSController) writePump(ctx context.Context, c *WSConn) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// readPump processes inbound frames until the socket dies, then detaches
// the socket from every room it was viewing and tells the remaining
// viewers.
func (ctl *WSController) readPump(ctx context.Context, cancel context.CancelFunc, userID string, c *WSConn) {
	defer func() {
		cancel()
		rooms := ctl.Registry.Unregister(userID, c)
		for _, roomCode := range rooms {
			ctl.notifyRoom(roomCode, domain.UserLeft(userID), nil)
		}
		c.Close()
		log.Info().Str("module", "adapters.ws").Str("user", userID).Msg("socket disconnected")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.handleMessage(c, userID, data)
		}
	}
}

func (ctl *WSController) handleMessage(c *WSConn, userID string, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	switch msg.Event {
	case "JOIN_ROOM":
		if msg.Payload.RoomCode == "" {
			return
		}
		ctl.Registry.AttachToRoom(c, msg.Payload.RoomCode)
		// The joiner already knows it joined; tell everyone else.
		ctl.notifyRoom(msg.Payload.RoomCode, domain.UserJoined(userID), c)
	case "LEAVE_ROOM":
		if msg.Payload.RoomCode == "" {
			return
		}
		ctl.Registry.DetachFromRoom(c, msg.Payload.RoomCode)
		ctl.notifyRoom(msg.Payload.RoomCode, domain.UserLeft(userID), nil)
	default:
		log.Debug().Str("module", "adapters.ws").Str("event", msg.Event).Msg("unknown ws event dropped")
	}
}

// notifyRoom is local-only fanout for socket membership changes; these
// never cross the bus.
func (ctl *WSController) notifyRoom(roomCode string, msg domain.Message, except app.Sink) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctl.Registry.DeliverToRoomExcept(roomCode, data, except)
}
