// Package session owns the lifecycle of one mounted table: resolving
// the local identity, dialing the document and intent transports,
// running the init planner after sync, and driving reconnects. The
// replicated documents themselves are refcounted so a room preview and
// the full table view share one instance.
package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/magefree/mage-table-go/internal/actions"
	"github.com/magefree/mage-table-go/internal/config"
	"github.com/magefree/mage-table-go/internal/crdt"
	"github.com/magefree/mage-table-go/internal/identity"
	"github.com/magefree/mage-table-go/internal/join"
	"github.com/magefree/mage-table-go/internal/presence"
	"github.com/magefree/mage-table-go/internal/store"
	"github.com/magefree/mage-table-go/internal/table"
	"github.com/magefree/mage-table-go/internal/tablesync"
	"github.com/magefree/mage-table-go/internal/tokens"
	"github.com/magefree/mage-table-go/internal/transport"
)

// MountParams describe the table to mount.
type MountParams struct {
	SessionID   string
	DesiredName string
	DefaultName string
	Role        string
	// InviteURL, when set, is parsed for an access key before dialing.
	InviteURL string
}

type docHandle struct {
	doc  *table.SharedDocument
	refs int
}

// Manager mounts and unmounts table sessions. At most one session is
// active at a time; mounting a new one tears the previous down first.
type Manager struct {
	cfg      config.SessionConfig
	dialer   transport.Dialer
	store    *store.Container
	tokens   *tokens.Store
	identity *identity.Store
	logger   *zap.Logger

	mu     sync.Mutex
	docs   map[string]*docHandle
	active *mounted
}

// mounted is the live state of one mounted session.
type mounted struct {
	sessionID string
	playerID  string
	hadTokens bool
	connect   transport.ConnectParams

	provider transport.Provider
	intents  transport.IntentTransport
	acts     *actions.Actions
	recon    *tablesync.Reconciler

	syncDebounce *tablesync.Debouncer
	initDebounce *tablesync.Debouncer
	docUnsub     func()

	ctx    context.Context
	cancel context.CancelFunc

	reconnectCh chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewManager wires a session manager.
func NewManager(cfg config.SessionConfig, dialer transport.Dialer, container *store.Container, tokenStore *tokens.Store, identityStore *identity.Store, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		store:    container,
		tokens:   tokenStore,
		identity: identityStore,
		logger:   logger,
		docs:     make(map[string]*docHandle),
	}
}

// AcquireDoc returns the shared document for a session, creating it on
// first use. Every Acquire must be paired with a Release.
func (m *Manager) AcquireDoc(sessionID string) *table.SharedDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.docs[sessionID]
	if !ok {
		h = &docHandle{doc: table.NewSharedDocument(crdt.NewDoc(m.identity.ClientKey()))}
		m.docs[sessionID] = h
	}
	h.refs++
	return h.doc
}

// ReleaseDoc drops one reference; the document is discarded when the
// last reference goes.
func (m *Manager) ReleaseDoc(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.docs[sessionID]
	if !ok {
		return
	}
	h.refs--
	if h.refs <= 0 {
		delete(m.docs, sessionID)
	}
}

// Actions returns the mutation surface of the active session, or nil
// when nothing is mounted.
func (m *Manager) Actions() *actions.Actions {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	return m.active.acts
}

// Mount attaches to a room. Remounting the same room with the same
// resolved player id is a no-op; anything else unmounts the previous
// session first.
func (m *Manager) Mount(params MountParams) error {
	playerID := m.identity.PlayerIDFor(params.SessionID)

	m.mu.Lock()
	if m.active != nil && m.active.sessionID == params.SessionID && m.active.playerID == playerID {
		m.mu.Unlock()
		return nil
	}
	prev := m.active
	m.active = nil
	m.mu.Unlock()
	if prev != nil {
		m.teardown(prev)
	}

	if key := tokens.ResolveInviteTokenFromURL(params.InviteURL); key != "" {
		m.tokens.WriteRoomTokens(params.SessionID, tokens.RoomTokens{AccessKey: key, Role: params.Role})
		m.tokens.ClearRoomUnavailable(params.SessionID)
	}
	roomTokens, hadTokens := m.tokens.ReadRoomTokens(params.SessionID)

	m.store.ResetSession(params.SessionID, playerID)
	if m.tokens.IsRoomUnavailable(params.SessionID) {
		m.store.SetJoinBlocked(join.BlockedRoomUnavailable)
	}

	doc := m.AcquireDoc(params.SessionID)
	overlay := tablesync.NewOverlay(params.SessionID)
	pending := tablesync.NewPendingIntents(tablesync.DefaultIntentTimeout)
	recon := tablesync.NewReconciler(doc, overlay, pending, m.store.SetSnapshot, m.logger)

	ctx, cancel := context.WithCancel(context.Background())
	ms := &mounted{
		sessionID:   params.SessionID,
		playerID:    playerID,
		hadTokens:   hadTokens,
		recon:       recon,
		ctx:         ctx,
		cancel:      cancel,
		reconnectCh: make(chan struct{}, 1),
	}
	ms.syncDebounce = tablesync.NewDebouncer(m.cfg.SyncDebounce, recon.Resync)
	ms.initDebounce = tablesync.NewDebouncer(m.cfg.InitDebounce, func() {
		m.runInit(ms, doc, params)
	})

	ms.docUnsub = doc.OnChange(ms.syncDebounce.Trigger)

	ms.connect = transport.ConnectParams{
		RoomID:         params.SessionID,
		UserID:         playerID,
		ClientKey:      m.identity.ClientKey(),
		SessionVersion: m.identity.NextSessionVersion(params.SessionID),
		ClientVersion:  m.cfg.ClientVersion,
		Role:           params.Role,
		AccessKey:      roomTokens.AccessKey,
	}

	provider := m.dialer.DialDocument(ms.connect, doc.Doc())
	ms.provider = provider

	provider.OnStatus(func(s transport.Status) {
		m.store.SetConnectionStatus(s)
	})
	provider.OnSynced(func() {
		ms.initDebounce.Trigger()
	})
	provider.OnClose(func(info transport.CloseInfo) {
		m.handleClose(ms, info)
	})

	pres := provider.Presence()
	pres.OnChange(func() {
		m.store.SetPeerCounts(presence.ComputePeerCounts(pres.States()))
	})

	if err := m.dialIntents(ms); err != nil {
		m.logger.Warn("intent channel unavailable, continuing on document channel only",
			zap.String("session_id", params.SessionID),
			zap.Error(err),
		)
	}

	send := func(env transport.IntentEnvelope) {
		ms.mu.Lock()
		it := ms.intents
		ms.mu.Unlock()
		if it == nil {
			return
		}
		env.RoomID = params.SessionID
		if err := it.SendIntent(env); err != nil {
			m.logger.Debug("intent send failed", zap.Error(err))
		}
	}
	acts := actions.New(playerID, doc, pending, recon.Resync, send, m.logger)

	m.mu.Lock()
	ms.acts = acts
	m.active = ms
	m.mu.Unlock()

	go m.reconnectLoop(ms, provider)

	if err := provider.Connect(ctx); err != nil {
		m.logger.Warn("initial connect failed, retrying",
			zap.String("session_id", params.SessionID),
			zap.Error(err),
		)
		ms.requestReconnect()
	}

	m.logger.Info("session mounted",
		zap.String("session_id", params.SessionID),
		zap.String("player_id", playerID),
		zap.String("role", params.Role),
	)
	return nil
}

// Unmount tears down the active session. Safe to call when nothing is
// mounted.
func (m *Manager) Unmount() {
	m.mu.Lock()
	ms := m.active
	m.active = nil
	m.mu.Unlock()
	if ms == nil {
		return
	}
	m.teardown(ms)
	m.store.ResetSession("", "")
}

func (m *Manager) teardown(ms *mounted) {
	ms.mu.Lock()
	ms.closed = true
	intents := ms.intents
	ms.intents = nil
	ms.mu.Unlock()

	ms.cancel()
	if ms.docUnsub != nil {
		ms.docUnsub()
	}
	ms.syncDebounce.Stop()
	ms.initDebounce.Stop()
	if ms.provider != nil {
		if pres := ms.provider.Presence(); pres != nil {
			pres.Clear()
		}
		ms.provider.Destroy()
	}
	if intents != nil {
		intents.Close()
	}
	m.ReleaseDoc(ms.sessionID)
	m.logger.Info("session unmounted", zap.String("session_id", ms.sessionID))
}

// dialIntents opens (or reopens) the intent channel and swaps it into
// the session, closing any previous transport. The channel carries only
// optimistic hints, so a failed dial leaves the session usable on the
// document channel alone.
func (m *Manager) dialIntents(ms *mounted) error {
	it, err := m.dialer.DialIntents(ms.connect, transport.IntentHandlers{
		OnMessage: func(env transport.IntentEnvelope) {
			m.mu.Lock()
			acts := ms.acts
			m.mu.Unlock()
			if acts != nil {
				acts.HandleRemote(env)
			}
		},
		OnClose: func(info transport.CloseInfo) {
			m.handleClose(ms, info)
		},
	})
	if err != nil {
		return err
	}

	ms.mu.Lock()
	if ms.closed {
		ms.mu.Unlock()
		it.Close()
		return nil
	}
	old := ms.intents
	ms.intents = it
	ms.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// runInit performs the post-sync initialization pass: join gate, init
// plan, presence identity, then a forced reconciliation so the UI sees
// the joined state immediately.
func (m *Manager) runInit(ms *mounted, doc *table.SharedDocument, params MountParams) {
	ms.mu.Lock()
	if ms.closed {
		ms.mu.Unlock()
		return
	}
	ms.mu.Unlock()

	result := join.EnsureLocalPlayer(doc, ms.playerID, params.DesiredName, params.DefaultName, m.logger)
	switch result.Status {
	case join.StatusBlocked:
		m.store.SetJoinBlocked(result.Reason)
	default:
		m.store.SetJoinBlocked("")
		if m.tokens.IsRoomHostPending(ms.sessionID) && doc.RoomMeta().HostID == ms.playerID {
			m.tokens.MarkRoomHostPending(ms.sessionID, false)
		}
	}

	role := params.Role
	if role == "" {
		role = presence.RolePlayer
	}
	if ms.provider != nil {
		ms.provider.Presence().SetLocalStateField("client", presence.ClientState{
			ID:   ms.playerID,
			Role: role,
		})
	}

	ms.recon.Resync()
}

// handleClose classifies a connection close. Auth rejections block the
// session permanently; anything else schedules a reconnect.
func (m *Manager) handleClose(ms *mounted, info transport.CloseInfo) {
	ms.mu.Lock()
	if ms.closed {
		ms.mu.Unlock()
		return
	}
	ms.mu.Unlock()

	if transport.IsAuthRejection(info.Code) {
		if ms.hadTokens {
			// Tokens that used to work no longer do; the room is gone
			// or was re-keyed.
			m.tokens.MarkRoomUnavailable(ms.sessionID)
			m.store.SetJoinBlocked(join.BlockedRoomUnavailable)
		} else {
			m.store.SetJoinBlocked(join.BlockedInvite)
		}
		m.logger.Info("room rejected connection",
			zap.String("session_id", ms.sessionID),
			zap.Int("code", info.Code),
			zap.String("reason", info.Reason),
		)
		return
	}

	m.logger.Info("connection lost, scheduling reconnect",
		zap.String("session_id", ms.sessionID),
		zap.Int("code", info.Code),
	)
	ms.requestReconnect()
}

func (ms *mounted) requestReconnect() {
	select {
	case ms.reconnectCh <- struct{}{}:
	default:
	}
}

// reconnectLoop waits out the grace period after a drop, then retries
// with doubling backoff. It deliberately ignores provider.Connected():
// the intent channel can die while the document socket still looks
// healthy, and a redundant Connect against a live connection is a
// cheap no-op at the dialer.
func (m *Manager) reconnectLoop(ms *mounted, provider transport.Provider) {
	for {
		select {
		case <-ms.ctx.Done():
			return
		case <-ms.reconnectCh:
		}

		if !sleepCtx(ms.ctx, m.cfg.ReconnectGrace) {
			return
		}

		backoff := m.cfg.BackoffMin
		for {
			if err := provider.Connect(ms.ctx); err == nil {
				// The intent channel has no recovery of its own; every
				// cycle re-dials it so a drop there heals too.
				if err := m.dialIntents(ms); err == nil {
					break
				}
			}
			m.logger.Debug("reconnect attempt failed",
				zap.String("session_id", ms.sessionID),
				zap.Duration("backoff", backoff),
			)
			if !sleepCtx(ms.ctx, jitter(backoff)) {
				return
			}
			backoff *= 2
			if backoff > m.cfg.BackoffMax {
				backoff = m.cfg.BackoffMax
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// jitter spreads reconnect attempts so clients dropped together don't
// stampede the relay in lockstep.
func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
