package transport

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/magefree/mage-table-go/internal/crdt"
	"github.com/magefree/mage-table-go/internal/presence"
)

// WebsocketDialer creates websocket-backed transports against a relay
// base URL (e.g. ws://localhost:8080).
type WebsocketDialer struct {
	BaseURL string
	Logger  *zap.Logger
}

// DialDocument creates a document provider. The provider is not
// connected until Connect is called.
func (d *WebsocketDialer) DialDocument(params ConnectParams, doc *crdt.Doc) Provider {
	p := &wsProvider{
		url:    endpointURL(d.BaseURL, params, "doc"),
		doc:    doc,
		logger: d.Logger,
	}
	p.channel = &wsPresence{provider: p, states: make(map[int64]presence.State)}
	p.docUnsub = doc.OnUpdate(p.sendUpdate)
	return p
}

// DialIntents opens the auxiliary intent channel. Unlike the document
// provider it connects immediately: intent delivery has no sync
// handshake to wait for.
func (d *WebsocketDialer) DialIntents(params ConnectParams, handlers IntentHandlers) (IntentTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(endpointURL(d.BaseURL, params, "intents"), nil)
	if err != nil {
		return nil, fmt.Errorf("dial intent channel: %w", err)
	}
	t := &wsIntents{conn: conn, handlers: handlers, logger: d.Logger}
	go t.readLoop()
	return t, nil
}

func endpointURL(base string, params ConnectParams, channel string) string {
	q := url.Values{}
	q.Set("user", params.UserID)
	q.Set("client", params.ClientKey)
	q.Set("sv", strconv.FormatUint(params.SessionVersion, 10))
	q.Set("cv", params.ClientVersion)
	q.Set("role", params.Role)
	if params.AccessKey != "" {
		q.Set("key", params.AccessKey)
	}
	return fmt.Sprintf("%s/rooms/%s/%s?%s", base, url.PathEscape(params.RoomID), channel, q.Encode())
}

type wsProvider struct {
	url      string
	doc      *crdt.Doc
	logger   *zap.Logger
	channel  *wsPresence
	docUnsub func()

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	destroyed bool
	statusFns []func(Status)
	syncedFns []func()
	closeFns  []func(CloseInfo)
}

func (p *wsProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return fmt.Errorf("provider destroyed")
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.mu.Unlock()

	p.notifyStatus(StatusConnecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
	if err != nil {
		p.notifyStatus(StatusDisconnected)
		return fmt.Errorf("dial document channel: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.mu.Unlock()
	p.notifyStatus(StatusConnected)

	go p.readLoop(conn)
	return nil
}

func (p *wsProvider) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			code, reason := closeDetails(err)
			p.mu.Lock()
			current := p.conn == conn
			if current {
				p.connected = false
				p.conn = nil
			}
			closeFns := append([]func(CloseInfo){}, p.closeFns...)
			p.mu.Unlock()
			if current {
				p.notifyStatus(StatusDisconnected)
				for _, fn := range closeFns {
					fn(CloseInfo{Code: code, Reason: reason})
				}
			}
			return
		}
		switch msg.Type {
		case MsgSync, MsgUpdate:
			if msg.Update != nil {
				p.doc.Apply(*msg.Update)
			}
		case MsgSyncDone:
			// Push local state back so edits made while offline reach the
			// relay; the relay's LWW merge discards anything stale.
			if state := p.doc.State(); len(state.Ops) > 0 {
				p.writeJSON(Message{Type: MsgUpdate, Update: &state})
			}
			p.mu.Lock()
			syncedFns := append([]func(){}, p.syncedFns...)
			p.mu.Unlock()
			for _, fn := range syncedFns {
				fn()
			}
		case MsgPresenceStates:
			p.channel.setStates(msg.States)
		}
	}
}

// sendUpdate ships a locally-produced document update. Drops silently
// while disconnected: the relay replays full state on the next sync
// handshake, so nothing is lost.
func (p *wsProvider) sendUpdate(update crdt.Update) {
	p.writeJSON(Message{Type: MsgUpdate, Update: &update})
}

func (p *wsProvider) writeJSON(msg Message) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(msg); err != nil && p.logger != nil {
		p.logger.Debug("document channel write failed", zap.Error(err))
	}
}

func (p *wsProvider) OnStatus(fn func(Status)) {
	p.mu.Lock()
	p.statusFns = append(p.statusFns, fn)
	p.mu.Unlock()
}

func (p *wsProvider) OnSynced(fn func()) {
	p.mu.Lock()
	p.syncedFns = append(p.syncedFns, fn)
	p.mu.Unlock()
}

func (p *wsProvider) OnClose(fn func(CloseInfo)) {
	p.mu.Lock()
	p.closeFns = append(p.closeFns, fn)
	p.mu.Unlock()
}

func (p *wsProvider) notifyStatus(s Status) {
	p.mu.Lock()
	fns := append([]func(Status){}, p.statusFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (p *wsProvider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *wsProvider) Presence() presence.Channel {
	return p.channel
}

func (p *wsProvider) Disconnect() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.connected = false
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (p *wsProvider) Destroy() {
	p.Disconnect()
	if p.docUnsub != nil {
		p.docUnsub()
	}
	p.mu.Lock()
	p.destroyed = true
	p.statusFns = nil
	p.syncedFns = nil
	p.closeFns = nil
	p.mu.Unlock()
}

// wsPresence is the awareness channel riding on the document
// connection.
type wsPresence struct {
	provider *wsProvider

	mu        sync.Mutex
	local     presence.State
	states    map[int64]presence.State
	changeFns []func()
}

func (c *wsPresence) SetLocalStateField(key string, value any) {
	c.mu.Lock()
	if key == "client" {
		if cs, ok := value.(presence.ClientState); ok {
			c.local.Client = &cs
		}
	}
	local := c.local
	c.mu.Unlock()
	c.provider.writeJSON(Message{Type: MsgPresence, State: &local})
}

func (c *wsPresence) States() map[int64]presence.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]presence.State, len(c.states))
	for k, v := range c.states {
		out[k] = v
	}
	return out
}

func (c *wsPresence) OnChange(fn func()) {
	c.mu.Lock()
	c.changeFns = append(c.changeFns, fn)
	c.mu.Unlock()
}

func (c *wsPresence) Clear() {
	c.mu.Lock()
	c.local = presence.State{}
	c.mu.Unlock()
	c.provider.writeJSON(Message{Type: MsgPresence, State: nil})
}

func (c *wsPresence) setStates(states map[int64]presence.State) {
	c.mu.Lock()
	if states == nil {
		states = make(map[int64]presence.State)
	}
	c.states = states
	fns := append([]func(){}, c.changeFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// wsIntents is the websocket intent channel.
type wsIntents struct {
	handlers IntentHandlers
	logger   *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (t *wsIntents) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			code, reason := closeDetails(err)
			t.mu.Lock()
			deliberate := t.closed
			t.mu.Unlock()
			// A close we initiated ourselves is not a connection loss.
			if !deliberate && t.handlers.OnClose != nil {
				t.handlers.OnClose(CloseInfo{Code: code, Reason: reason})
			}
			return
		}
		if msg.Type == MsgIntent && msg.Envelope != nil && t.handlers.OnMessage != nil {
			t.handlers.OnMessage(*msg.Envelope)
		}
	}
}

func (t *wsIntents) SendIntent(env IntentEnvelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("intent channel closed")
	}
	if err := conn.WriteJSON(Message{Type: MsgIntent, Envelope: &env}); err != nil {
		return fmt.Errorf("send intent: %w", err)
	}
	return nil
}

func (t *wsIntents) Close() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.closed = true
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func closeDetails(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
