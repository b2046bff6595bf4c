package compass

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/imadgeboyega/kiekky-compass/internal/auth"
	"github.com/imadgeboyega/kiekky-compass/internal/common/utils"
	"github.com/imadgeboyega/kiekky-compass/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 64
	broadcastSize  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// requests are already authenticated by token
		return true
	},
}

// Notifier delivers realtime events to a user
type Notifier interface {
	NotifyConnectionRequest(targetUID string, request *ConnectionRequest)
}

type Hub struct {
	clients    map[string]map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	userID string
}

type Message struct {
	Type   string      `json:"type"`
	UserID string      `json:"user_id"`
	Data   interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		broadcast:  make(chan Message, broadcastSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]struct{})
			}
			h.clients[client.userID][client] = struct{}{}
			logging.Debug().Str("uid", client.userID).Msg("websocket connected")

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			for client := range h.clients[message.UserID] {
				select {
				case client.send <- message:
				default:
					h.remove(client)
				}
			}

		case <-ctx.Done():
			for _, conns := range h.clients {
				for client := range conns {
					close(client.send)
				}
			}
			h.clients = make(map[string]map[*Client]struct{})
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	conns, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	close(client.send)
	if len(conns) == 0 {
		delete(h.clients, client.userID)
	}
	logging.Debug().Str("uid", client.userID).Msg("websocket disconnected")
}

// NotifyConnectionRequest never blocks the caller; a full queue drops the
// notification
func (h *Hub) NotifyConnectionRequest(targetUID string, request *ConnectionRequest) {
	message := Message{
		Type:   "connection_request",
		UserID: targetUID,
		Data:   request,
	}
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("uid", targetUID).Msg("notification queue full, dropping connection request")
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan Message, clientSendSize),
		userID: userID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
