package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/magefree/mage-table-go/internal/config"
	"github.com/magefree/mage-table-go/internal/crdt"
	"github.com/magefree/mage-table-go/internal/identity"
	"github.com/magefree/mage-table-go/internal/join"
	"github.com/magefree/mage-table-go/internal/presence"
	"github.com/magefree/mage-table-go/internal/store"
	"github.com/magefree/mage-table-go/internal/tokens"
	"github.com/magefree/mage-table-go/internal/transport"
)

type fakePresence struct {
	mu     sync.Mutex
	local  map[string]any
	states map[int64]presence.State
	fns    []func()
}

func newFakePresence() *fakePresence {
	return &fakePresence{local: map[string]any{}, states: map[int64]presence.State{}}
}

func (p *fakePresence) SetLocalStateField(key string, value any) {
	p.mu.Lock()
	p.local[key] = value
	p.mu.Unlock()
}

func (p *fakePresence) States() map[int64]presence.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int64]presence.State, len(p.states))
	for k, v := range p.states {
		out[k] = v
	}
	return out
}

func (p *fakePresence) OnChange(fn func()) {
	p.mu.Lock()
	p.fns = append(p.fns, fn)
	p.mu.Unlock()
}

func (p *fakePresence) Clear() {
	p.mu.Lock()
	p.local = map[string]any{}
	p.mu.Unlock()
}

func (p *fakePresence) push(states map[int64]presence.State) {
	p.mu.Lock()
	p.states = states
	fns := append([]func(){}, p.fns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fakeProvider struct {
	mu        sync.Mutex
	connects  int
	destroyed bool
	statusFns []func(transport.Status)
	syncedFns []func()
	closeFns  []func(transport.CloseInfo)
	pres      *fakePresence
	failFirst int
}

func (p *fakeProvider) Connect(context.Context) error {
	p.mu.Lock()
	p.connects++
	fail := p.connects <= p.failFirst
	syncedFns := append([]func(){}, p.syncedFns...)
	statusFns := append([]func(transport.Status){}, p.statusFns...)
	p.mu.Unlock()
	if fail {
		return context.DeadlineExceeded
	}
	for _, fn := range statusFns {
		fn(transport.StatusConnected)
	}
	for _, fn := range syncedFns {
		fn()
	}
	return nil
}

func (p *fakeProvider) OnStatus(fn func(transport.Status)) {
	p.mu.Lock()
	p.statusFns = append(p.statusFns, fn)
	p.mu.Unlock()
}

func (p *fakeProvider) OnSynced(fn func()) {
	p.mu.Lock()
	p.syncedFns = append(p.syncedFns, fn)
	p.mu.Unlock()
}

func (p *fakeProvider) OnClose(fn func(transport.CloseInfo)) {
	p.mu.Lock()
	p.closeFns = append(p.closeFns, fn)
	p.mu.Unlock()
}

func (p *fakeProvider) Connected() bool { return true }

func (p *fakeProvider) Presence() presence.Channel { return p.pres }

func (p *fakeProvider) Disconnect() {}

func (p *fakeProvider) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()
}

func (p *fakeProvider) fireClose(info transport.CloseInfo) {
	p.mu.Lock()
	fns := append([]func(transport.CloseInfo){}, p.closeFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(info)
	}
}

func (p *fakeProvider) connectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

type fakeIntents struct {
	mu   sync.Mutex
	sent []transport.IntentEnvelope
}

func (t *fakeIntents) SendIntent(env transport.IntentEnvelope) error {
	t.mu.Lock()
	t.sent = append(t.sent, env)
	t.mu.Unlock()
	return nil
}

func (t *fakeIntents) Close() {}

type fakeDialer struct {
	mu          sync.Mutex
	provider    *fakeProvider
	intents     *fakeIntents
	params      transport.ConnectParams
	handlers    transport.IntentHandlers
	intentDials int
}

func (d *fakeDialer) DialDocument(params transport.ConnectParams, _ *crdt.Doc) transport.Provider {
	d.mu.Lock()
	d.params = params
	d.mu.Unlock()
	return d.provider
}

func (d *fakeDialer) DialIntents(_ transport.ConnectParams, handlers transport.IntentHandlers) (transport.IntentTransport, error) {
	d.mu.Lock()
	d.handlers = handlers
	d.intentDials++
	d.mu.Unlock()
	return d.intents, nil
}

func (d *fakeDialer) intentDialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.intentDials
}

func (d *fakeDialer) fireIntentClose(info transport.CloseInfo) {
	d.mu.Lock()
	handlers := d.handlers
	d.mu.Unlock()
	if handlers.OnClose != nil {
		handlers.OnClose(info)
	}
}

func testConfig(t *testing.T) config.SessionConfig {
	return config.SessionConfig{
		ServerURL:      "ws://fake",
		DataDir:        t.TempDir(),
		ClientVersion:  "test",
		ReconnectGrace: 5 * time.Millisecond,
		BackoffMin:     5 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
		SyncDebounce:   2 * time.Millisecond,
		InitDebounce:   2 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, provider *fakeProvider) (*Manager, *fakeDialer, *store.Container) {
	cfg := testConfig(t)
	tokenStore, err := tokens.NewStore(cfg.DataDir)
	require.NoError(t, err)
	identityStore, err := identity.NewStore(cfg.DataDir)
	require.NoError(t, err)

	container := store.NewContainer()
	container.Init()

	dialer := &fakeDialer{provider: provider, intents: &fakeIntents{}}
	mgr := NewManager(cfg, dialer, container, tokenStore, identityStore, zaptest.NewLogger(t))
	return mgr, dialer, container
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMount_InitializesLocalPlayer(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, _, container := newTestManager(t, provider)
	defer mgr.Unmount()

	require.NoError(t, mgr.Mount(MountParams{
		SessionID: "room-1", DesiredName: "Alice", DefaultName: "Guest", Role: presence.RolePlayer,
	}))

	playerID := container.LocalPlayerID()
	require.NotEmpty(t, playerID)

	waitFor(t, func() bool {
		snap := container.Snapshot()
		_, ok := snap.Players[playerID]
		return ok
	}, "local player never appeared in the published snapshot")

	snap := container.Snapshot()
	assert.Equal(t, "Alice", snap.Players[playerID].Name)
	assert.Equal(t, join.DefaultLife, snap.Players[playerID].Life)
	assert.Equal(t, playerID, snap.Meta.HostID, "first player becomes host")
}

func TestMount_SameRoomIsNoop(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, _, _ := newTestManager(t, provider)
	defer mgr.Unmount()

	require.NoError(t, mgr.Mount(MountParams{SessionID: "room-1", DesiredName: "Alice"}))
	first := provider.connectCount()
	require.NoError(t, mgr.Mount(MountParams{SessionID: "room-1", DesiredName: "Alice"}))
	assert.Equal(t, first, provider.connectCount(), "remounting the same room must not redial")
}

func TestMount_StableIdentityAcrossRemounts(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, _, container := newTestManager(t, provider)

	require.NoError(t, mgr.Mount(MountParams{SessionID: "room-1", DesiredName: "Alice"}))
	id1 := container.LocalPlayerID()
	mgr.Unmount()

	require.NoError(t, mgr.Mount(MountParams{SessionID: "room-1", DesiredName: "Alice"}))
	id2 := container.LocalPlayerID()
	mgr.Unmount()

	assert.Equal(t, id1, id2, "rejoining the same room must reuse the persisted player id")
}

func TestMount_InviteKeyStoredAndPassedToDialer(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, dialer, _ := newTestManager(t, provider)
	defer mgr.Unmount()

	require.NoError(t, mgr.Mount(MountParams{
		SessionID: "room-1",
		InviteURL: "https://table.example/rooms/room-1?key=sekrit",
	}))

	dialer.mu.Lock()
	key := dialer.params.AccessKey
	dialer.mu.Unlock()
	assert.Equal(t, "sekrit", key)
}

func TestClose_AuthRejectionWithTokensMarksUnavailable(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, _, container := newTestManager(t, provider)
	defer mgr.Unmount()

	require.NoError(t, mgr.Mount(MountParams{
		SessionID: "room-1",
		InviteURL: "https://table.example/rooms/room-1?key=stale",
	}))

	provider.fireClose(transport.CloseInfo{Code: transport.CloseInvalidAccessKey, Reason: "invalid access key"})

	waitFor(t, func() bool {
		return container.JoinBlocked() == join.BlockedRoomUnavailable
	}, "rejection with held tokens must surface room-unavailable")
}

func TestClose_AuthRejectionWithoutTokensNeedsInvite(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, _, container := newTestManager(t, provider)
	defer mgr.Unmount()

	require.NoError(t, mgr.Mount(MountParams{SessionID: "room-1"}))
	provider.fireClose(transport.CloseInfo{Code: transport.CloseInvalidAccessKey})

	waitFor(t, func() bool {
		return container.JoinBlocked() == join.BlockedInvite
	}, "rejection with no tokens must ask for an invite")
}

func TestClose_TransientDropReconnects(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, _, _ := newTestManager(t, provider)
	defer mgr.Unmount()

	require.NoError(t, mgr.Mount(MountParams{SessionID: "room-1"}))
	before := provider.connectCount()

	provider.fireClose(transport.CloseInfo{Code: 1006, Reason: "abnormal closure"})

	waitFor(t, func() bool {
		return provider.connectCount() > before
	}, "transient drop must trigger a reconnect after the grace period")
}

func TestReconnect_RedialsIntentChannel(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, dialer, _ := newTestManager(t, provider)
	defer mgr.Unmount()

	require.NoError(t, mgr.Mount(MountParams{SessionID: "room-1"}))
	before := dialer.intentDialCount()

	provider.fireClose(transport.CloseInfo{Code: 1006, Reason: "abnormal closure"})

	waitFor(t, func() bool {
		return dialer.intentDialCount() > before
	}, "reconnect cycle must re-dial the intent channel")
}

func TestIntentChannelDrop_TriggersReconnect(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, dialer, _ := newTestManager(t, provider)
	defer mgr.Unmount()

	require.NoError(t, mgr.Mount(MountParams{SessionID: "room-1"}))
	before := dialer.intentDialCount()

	// Only the intent socket drops; the document socket stays up.
	dialer.fireIntentClose(transport.CloseInfo{Code: 1006, Reason: "abnormal closure"})

	waitFor(t, func() bool {
		return dialer.intentDialCount() > before
	}, "an intent channel drop must heal on its own")
}

func TestReconnect_BacksOffThroughFailures(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, _, _ := newTestManager(t, provider)
	defer mgr.Unmount()

	require.NoError(t, mgr.Mount(MountParams{SessionID: "room-1"}))
	// The next two dials fail before one succeeds.
	provider.mu.Lock()
	provider.failFirst = provider.connects + 2
	provider.mu.Unlock()
	before := provider.connectCount()

	provider.fireClose(transport.CloseInfo{Code: 1006})

	waitFor(t, func() bool {
		return provider.connectCount() >= before+3
	}, "reconnect loop must retry through failures")
}

func TestPresence_FeedsPeerCounts(t *testing.T) {
	pres := newFakePresence()
	provider := &fakeProvider{pres: pres}
	mgr, _, container := newTestManager(t, provider)
	defer mgr.Unmount()

	require.NoError(t, mgr.Mount(MountParams{SessionID: "room-1"}))

	pres.push(map[int64]presence.State{
		1: {Client: &presence.ClientState{ID: "u1", Role: presence.RolePlayer}},
		2: {Client: &presence.ClientState{ID: "u2", Role: presence.RoleSpectator}},
	})

	waitFor(t, func() bool {
		counts := container.PeerCounts()
		return counts.Total == 2 && counts.Spectators == 1
	}, "presence updates must surface as peer counts")
}

func TestAcquireDoc_Refcounted(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, _, _ := newTestManager(t, provider)

	d1 := mgr.AcquireDoc("room-1")
	d2 := mgr.AcquireDoc("room-1")
	assert.Same(t, d1, d2, "same room shares one document")

	mgr.ReleaseDoc("room-1")
	d3 := mgr.AcquireDoc("room-1")
	assert.Same(t, d1, d3, "document survives while references remain")

	mgr.ReleaseDoc("room-1")
	mgr.ReleaseDoc("room-1")
	d4 := mgr.AcquireDoc("room-1")
	assert.NotSame(t, d1, d4, "last release discards the document")
	mgr.ReleaseDoc("room-1")
}

func TestUnmount_DestroysProvider(t *testing.T) {
	provider := &fakeProvider{pres: newFakePresence()}
	mgr, _, _ := newTestManager(t, provider)

	require.NoError(t, mgr.Mount(MountParams{SessionID: "room-1"}))
	mgr.Unmount()

	provider.mu.Lock()
	destroyed := provider.destroyed
	provider.mu.Unlock()
	assert.True(t, destroyed)
	assert.Nil(t, mgr.Actions())
}
