// Package relay is the websocket server the table clients converge
// through. It hosts one replicated document per room, fans document
// updates and presence to every connected client, and forwards intent
// envelopes peer-to-peer on the auxiliary channel.
package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/magefree/mage-table-go/internal/crdt"
	"github.com/magefree/mage-table-go/internal/presence"
	"github.com/magefree/mage-table-go/internal/transport"
)

// relayActor stamps server-side writes. The relay itself never writes
// game state, but the document needs an actor id.
const relayActor = "relay"

// Hub routes room connections. One instance serves all rooms.
type Hub struct {
	logger       *zap.Logger
	registry     Registry
	writeTimeout time.Duration
	pingInterval time.Duration
	upgrader     websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
}

// NewHub creates a hub backed by the given registry.
func NewHub(registry Registry, writeTimeout, pingInterval time.Duration, logger *zap.Logger) *Hub {
	return &Hub{
		logger:       logger,
		registry:     registry,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay authenticates with room keys, not cookies, so
			// cross-origin browser clients are fine.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
}

// Routes registers the hub's endpoints on a mux.
func (h *Hub) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /rooms/{room}/doc", h.handleDoc)
	mux.HandleFunc("GET /rooms/{room}/intents", h.handleIntents)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// room is the live server-side state of one table.
type room struct {
	id  string
	doc *crdt.Doc

	mu         sync.Mutex
	nextConnID int64
	docConns   map[int64]*client
	intentConn map[int64]*client
	presences  map[int64]presence.State
}

// client is one websocket connection with serialized writes.
type client struct {
	connID int64
	conn   *websocket.Conn
	hub    *Hub

	mu sync.Mutex
}

func (c *client) write(msg transport.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.writeTimeout))
}

func (h *Hub) getRoom(id string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[id]
	if !ok {
		rm = &room{
			id:         id,
			doc:        crdt.NewDoc(relayActor),
			docConns:   make(map[int64]*client),
			intentConn: make(map[int64]*client),
			presences:  make(map[int64]presence.State),
		}
		h.rooms[id] = rm
	}
	return rm
}

// authorize checks the room record against the presented key,
// registering the room on first contact. The first client to reach an
// unknown room sets its access key.
func (h *Hub) authorize(r *http.Request, roomID string) (closeCode int, reason string) {
	key := r.URL.Query().Get("key")
	rec, found, err := h.registry.GetRoom(r.Context(), roomID)
	if err != nil {
		h.logger.Error("registry lookup failed", zap.String("room", roomID), zap.Error(err))
		return websocket.CloseInternalServerErr, "registry unavailable"
	}
	if !found {
		hash, err := HashKey(key)
		if err != nil {
			return websocket.CloseInternalServerErr, "key setup failed"
		}
		rec = RoomRecord{ID: roomID, AccessKeyHash: hash, CreatedAt: time.Now()}
		if err := h.registry.CreateRoom(r.Context(), rec); err != nil {
			// Lost a create race; re-read and verify like any other client.
			rec, found, err = h.registry.GetRoom(r.Context(), roomID)
			if err != nil || !found {
				return websocket.CloseInternalServerErr, "registry unavailable"
			}
		} else {
			h.logger.Info("room registered",
				zap.String("room", roomID),
				zap.Bool("keyed", len(hash) > 0),
			)
			return 0, ""
		}
	}
	if rec.Closed {
		return transport.CloseRoomClosed, "room closed"
	}
	if !rec.VerifyAccessKey(key) {
		return transport.CloseInvalidAccessKey, "invalid access key"
	}
	return 0, ""
}

// reject upgrades the connection just enough to deliver a close code
// the client can classify, then drops it.
func (h *Hub) reject(w http.ResponseWriter, r *http.Request, code int, reason string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	deadline := time.Now().Add(h.writeTimeout)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

func (h *Hub) handleDoc(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	if code, reason := h.authorize(r, roomID); code != 0 {
		h.reject(w, r, code, reason)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	rm := h.getRoom(roomID)
	c := &client{conn: conn, hub: h}
	rm.mu.Lock()
	rm.nextConnID++
	c.connID = rm.nextConnID
	rm.docConns[c.connID] = c
	rm.mu.Unlock()

	h.logger.Info("document client connected",
		zap.String("room", roomID),
		zap.Int64("conn", c.connID),
		zap.String("user", r.URL.Query().Get("user")),
	)

	// Initial sync: full state, then the done marker the client keys its
	// offline-edit pushback and init pass on.
	state := rm.doc.State()
	c.write(transport.Message{Type: transport.MsgSync, Update: &state})
	c.write(transport.Message{Type: transport.MsgSyncDone})
	rm.broadcastPresence(nil)

	stopPing := h.startPinger(c)
	defer stopPing()

	for {
		var msg transport.Message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case transport.MsgUpdate:
			if msg.Update == nil {
				continue
			}
			if rm.doc.Apply(*msg.Update) {
				rm.broadcastDoc(c.connID, *msg.Update)
			}
		case transport.MsgPresence:
			rm.setPresence(c.connID, msg.State)
			rm.broadcastPresence(nil)
		}
	}

	rm.mu.Lock()
	delete(rm.docConns, c.connID)
	delete(rm.presences, c.connID)
	rm.mu.Unlock()
	conn.Close()
	rm.broadcastPresence(nil)
	h.logger.Info("document client disconnected",
		zap.String("room", roomID),
		zap.Int64("conn", c.connID),
	)
}

func (h *Hub) handleIntents(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	if code, reason := h.authorize(r, roomID); code != 0 {
		h.reject(w, r, code, reason)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	rm := h.getRoom(roomID)
	c := &client{conn: conn, hub: h}
	rm.mu.Lock()
	rm.nextConnID++
	c.connID = rm.nextConnID
	rm.intentConn[c.connID] = c
	rm.mu.Unlock()

	stopPing := h.startPinger(c)
	defer stopPing()

	for {
		var msg transport.Message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg.Type != transport.MsgIntent || msg.Envelope == nil {
			continue
		}
		env := *msg.Envelope
		env.RoomID = roomID
		env.Remote = true
		rm.broadcastIntent(c.connID, env)
	}

	rm.mu.Lock()
	delete(rm.intentConn, c.connID)
	rm.mu.Unlock()
	conn.Close()
}

func (h *Hub) startPinger(c *client) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// broadcastDoc fans a merged update to every document client except the
// sender.
func (rm *room) broadcastDoc(from int64, update crdt.Update) {
	for _, c := range rm.snapshotClients(rm.docClientsLocked, from) {
		c.write(transport.Message{Type: transport.MsgUpdate, Update: &update})
	}
}

// broadcastIntent forwards an envelope to every intent client except
// the sender.
func (rm *room) broadcastIntent(from int64, env transport.IntentEnvelope) {
	for _, c := range rm.snapshotClients(rm.intentClientsLocked, from) {
		c.write(transport.Message{Type: transport.MsgIntent, Envelope: &env})
	}
}

// broadcastPresence pushes the full presence map to every document
// client. except can exclude one connection.
func (rm *room) broadcastPresence(except *int64) {
	rm.mu.Lock()
	states := make(map[int64]presence.State, len(rm.presences))
	for k, v := range rm.presences {
		states[k] = v
	}
	clients := make([]*client, 0, len(rm.docConns))
	for id, c := range rm.docConns {
		if except != nil && id == *except {
			continue
		}
		clients = append(clients, c)
	}
	rm.mu.Unlock()
	for _, c := range clients {
		c.write(transport.Message{Type: transport.MsgPresenceStates, States: states})
	}
}

func (rm *room) setPresence(connID int64, state *presence.State) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if state == nil {
		delete(rm.presences, connID)
		return
	}
	rm.presences[connID] = *state
}

func (rm *room) docClientsLocked() map[int64]*client    { return rm.docConns }
func (rm *room) intentClientsLocked() map[int64]*client { return rm.intentConn }

func (rm *room) snapshotClients(pick func() map[int64]*client, skip int64) []*client {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	m := pick()
	out := make([]*client, 0, len(m))
	for id, c := range m {
		if id == skip {
			continue
		}
		out = append(out, c)
	}
	return out
}
