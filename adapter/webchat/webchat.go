// Package webchat implements a cortex.Adapter over HTTP + WebSocket: one
// connection per browser tab, messages in either direction framed as
// plain JSON. Routing uses go-chi/chi/v5 (grounded on the pack's gateway
// service's RegisterHTTP(r chi.Router) registration style); the
// connection itself is gorilla/websocket with a read pump and a write
// pump, generalized from nugget-thane-ai-agent's WSClient.readLoop
// (a client-side read loop there; here both directions run as
// independent goroutines per connection, the standard gorilla server
// pattern).
package webchat

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cortexlabs/cortex"
)

const ChannelID = "webchat"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wireMessage is the JSON frame exchanged over the WebSocket in either
// direction.
type wireMessage struct {
	ConnID  string `json:"conn_id"`
	Content string `json:"content"`
}

// conn is one live browser connection.
type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan string
	logger *slog.Logger
}

// Adapter serves webchat connections over HTTP and bridges them to the
// Bus. Each inbound message is translated into an Envelope via
// ToEnvelope and handed to onEnvelope (wired to bus.Enqueue by the
// caller); outbound sends are routed to the originating connection by
// Reply.AccountID, which this adapter stamps with the connection id.
type Adapter struct {
	upgrader   websocket.Upgrader
	onEnvelope func(context.Context, cortex.Envelope)
	logger     *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

// New builds a webchat Adapter. onEnvelope is invoked for every inbound
// message once translated; wire it to the Bus's Enqueue.
func New(onEnvelope func(context.Context, cortex.Envelope), logger *slog.Logger) *Adapter {
	return &Adapter{
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		onEnvelope: onEnvelope,
		logger:     cortex.OrDiscard(logger),
		conns:      make(map[string]*conn),
	}
}

func (a *Adapter) ChannelID() string { return ChannelID }

// Mount registers the WebSocket upgrade endpoint on r.
func (a *Adapter) Mount(r chi.Router) {
	r.Get("/ws/webchat", a.handleUpgrade)
}

func (a *Adapter) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("webchat: upgrade failed", "error", err)
		return
	}

	c := &conn{id: cortex.NewID(), ws: ws, send: make(chan string, 32), logger: a.logger}
	a.mu.Lock()
	a.conns[c.id] = c
	a.mu.Unlock()

	go a.writePump(c)
	a.readPump(c)
}

// readPump reads inbound frames until the connection closes, translating
// each into an envelope and handing it to onEnvelope.
func (a *Adapter) readPump(c *conn) {
	defer a.closeConn(c)

	c.ws.SetReadLimit(1 << 20)
	_ = c.ws.SetReadDeadline(cortex.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(cortex.Now().Add(pongWait))
	})

	for {
		var msg wireMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.logger.Warn("webchat: read error, dropping connection", "conn_id", c.id, "error", err)
			return
		}

		env, err := a.ToEnvelope(context.Background(), msg, nil)
		if err != nil {
			continue
		}
		env.Reply.AccountID = c.id
		a.onEnvelope(context.Background(), env)
	}
}

// writePump drains c.send to the socket and pings on pingPeriod, the
// standard gorilla server-side keepalive pair to readPump.
func (a *Adapter) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case content, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(cortex.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(wireMessage{ConnID: c.id, Content: content}); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(cortex.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (a *Adapter) closeConn(c *conn) {
	a.mu.Lock()
	delete(a.conns, c.id)
	a.mu.Unlock()
	close(c.send)
}

// ToEnvelope builds a normal-priority, external-relationship envelope
// from raw (a wireMessage). A real partner/external distinction would
// need an authenticated session; webchat treats every connection as
// external until one is layered on top.
func (a *Adapter) ToEnvelope(ctx context.Context, raw any, resolve cortex.SenderResolver) (cortex.Envelope, error) {
	msg, ok := raw.(wireMessage)
	if !ok {
		return cortex.Envelope{}, &cortex.ErrInvalidState{Entity: "webchat message", From: "raw", To: "envelope"}
	}
	return cortex.Envelope{
		ID:       cortex.NewID(),
		Channel:  ChannelID,
		Sender:   cortex.Sender{ID: msg.ConnID, Relationship: cortex.RelationExternal},
		Priority: cortex.PriorityNormal,
		Content:  msg.Content,
		Reply:    cortex.ReplyContext{Channel: ChannelID},
	}, nil
}

// Send pushes target.Content to the connection named by target.Reply.AccountID.
func (a *Adapter) Send(ctx context.Context, target cortex.OutputTarget) error {
	a.mu.Lock()
	c, ok := a.conns[target.Reply.AccountID]
	a.mu.Unlock()
	if !ok {
		return &cortex.ErrNotFound{Entity: "webchat connection", ID: target.Reply.AccountID}
	}
	select {
	case c.send <- target.Content:
		return nil
	default:
		return &cortex.ErrInvalidState{Entity: "webchat connection", From: "open", To: "send buffer full"}
	}
}

func (a *Adapter) IsAvailable() bool { return true }

var _ cortex.Adapter = (*Adapter)(nil)
