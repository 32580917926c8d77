package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"constructlink/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event types pushed to clients.
const (
	EventTransition = "transfer.transition"
	EventCreated    = "transfer.created"
	EventOverdue    = "transfer.overdue"
	EventNote       = "transfer.note"
)

// TransferEvent is the notification pushed after a transfer changes. Project
// scoped users only receive events for transfers touching their project.
type TransferEvent struct {
	ID            uuid.UUID `json:"id"`
	Type          string    `json:"type"`
	TransferID    int64     `json:"transfer_id"`
	FromProjectID int64     `json:"from_project_id"`
	ToProjectID   int64     `json:"to_project_id"`
	Action        string    `json:"action,omitempty"`
	Status        string    `json:"status"`
	ReturnStatus  string    `json:"return_status"`
	ActorID       *int64    `json:"actor_id,omitempty"`
	DaysOverdue   int       `json:"days_overdue,omitempty"`
	At            time.Time `json:"at"`
}

// Authenticate resolves a bearer token into the connecting actor.
type Authenticate func(token string) (workflow.Actor, error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a single connected WebSocket client
type Client struct {
	Hub   *Hub
	Conn  *websocket.Conn
	Send  chan []byte
	actor workflow.Actor
}

// canSee mirrors the view rule of the transfer list.
func (c *Client) canSee(e TransferEvent) bool {
	if !c.actor.Role.ProjectScoped() {
		return true
	}
	return c.actor.AffiliatedWith(e.FromProjectID, e.ToProjectID)
}

type outbound struct {
	event TransferEvent
	msg   []byte
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		log:        log,
	}
}

// Run dispatches hub events until ctx is done. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("WebSocket client connected", zap.Int64("user_id", client.actor.ID))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.log.Debug("WebSocket client disconnected", zap.Int64("user_id", client.actor.ID))
			}
			h.mu.Unlock()
		case out := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.canSee(out.event) {
					continue
				}
				select {
				case client.Send <- out.msg:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues the event for every connected client. It never blocks; events
// are dropped when the queue is full.
func (h *Hub) Publish(event TransferEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	msg, err := json.Marshal(event)
	if err != nil {
		h.log.Error("Failed to encode transfer event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- outbound{event: event, msg: msg}:
	default:
		h.log.Warn("Notification queue full, dropping event",
			zap.String("type", event.Type), zap.Int64("transfer_id", event.TransferID))
	}
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		_ = c.Conn.Close()
	}()
	for message := range c.Send {
		// One event per frame.
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump drains the connection so close frames are noticed.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		_ = c.Conn.Close()
	}()
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("WebSocket read failed", zap.Error(err))
			}
			break
		}
	}
}

// ServeWs upgrades an authenticated request. The token comes from the "token"
// query parameter since browsers cannot set headers on websocket requests.
func ServeWs(hub *Hub, c *gin.Context, auth Authenticate) {
	tokenString := c.Query("token")
	if tokenString == "" {
		hub.log.Info("WebSocket connection rejected: missing token")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	actor, err := auth(tokenString)
	if err != nil {
		hub.log.Info("WebSocket connection rejected: invalid token", zap.Error(err))
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 256), actor: actor}
	select {
	case hub.register <- client:
	case <-hub.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
