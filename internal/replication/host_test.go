package replication

import (
	"context"
	"math/rand/v2"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringhunt/internal/authority"
	"ringhunt/internal/grid"
	"ringhunt/internal/network"
	"ringhunt/internal/session"
	"ringhunt/internal/spawn"
)

type testSession struct {
	host *Host
	hub  *network.Hub
	url  string
}

func startSession(t *testing.T, expected int, opts authority.Options) *testSession {
	t.Helper()
	return startSessionWith(t, expected, func(*session.Registry) authority.Options { return opts })
}

// startSessionWith monta a sessão completa; options recebe o Registry para políticas que dependem dele.
func startSessionWith(t *testing.T, expected int, options func(*session.Registry) authority.Options) *testSession {
	t.Helper()
	return newTestSession(t, expected, options, nil)
}

// newTestSession usa o PrefabSpawner quando populator é nil.
func newTestSession(t *testing.T, expected int, options func(*session.Registry) authority.Options, populator session.StaticPopulator) *testSession {
	t.Helper()
	searcher := grid.NewSearcher(grid.New(grid.DefaultRegions), grid.WithRand(rand.New(rand.NewPCG(7, 7))))
	if populator == nil {
		populator = spawn.NewPrefabSpawner(searcher, spawn.DefaultEntities, nil)
	}
	registry := session.NewRegistry()
	coordinator, err := session.NewCoordinator(session.CoordinatorConfig{
		Store:     authority.NewStore(options(registry)),
		Registry:  registry,
		Populator: populator,
		Assigner:  spawn.NewPlayerSpawner(searcher, spawn.DefaultPlayerSpawn, nil),
		Expected:  expected,
	})
	require.NoError(t, err)

	host := NewHost(coordinator, nil)
	srv := network.NewServer(host, network.ServerOptions{})
	detach := host.Attach(srv.Hub())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		detach()
	})
	return &testSession{host: host, hub: srv.Hub(), url: "ws" + strings.TrimPrefix(ts.URL, "http")}
}

// connect abre a conexão e consome o SNAPSHOT inicial, garantindo que o cliente já está registrado.
func (s *testSession) connect(t *testing.T) (*websocket.Conn, SnapshotPayload) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var snap SnapshotPayload
	expect(t, conn, EvtSnapshot, &snap)
	return conn, snap
}

func (s *testSession) join(t *testing.T, name string) (*websocket.Conn, WelcomePayload) {
	t.Helper()
	conn, _ := s.connect(t)
	send(t, conn, CmdJoin, JoinPayload{Name: name})
	var w WelcomePayload
	expect(t, conn, EvtWelcome, &w)
	return conn, w
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	var msg network.Message
	if payload == nil {
		msg = network.Message{Type: msgType}
	} else {
		msg = network.MustMessage(msgType, payload)
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// expect lê a próxima mensagem e exige o tipo informado.
func expect(t *testing.T, conn *websocket.Conn, msgType string, into any) network.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg network.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, msgType, msg.Type, "payload: %s", string(msg.Payload))
	if into != nil {
		require.NoError(t, msg.Decode(into))
	}
	return msg
}

func claim(t *testing.T, conn *websocket.Conn, id authority.ParticipantID) {
	t.Helper()
	send(t, conn, CmdClaimRing, ClaimRingPayload{ParticipantID: &id})
}

func TestHost_InitialSnapshot(t *testing.T) {
	s := startSession(t, 2, authority.Options{RejectAfterWin: true})
	_, snap := s.connect(t)

	assert.Equal(t, authority.NoHolder, snap.RingHolder)
	assert.False(t, snap.MatchWon)
	assert.Zero(t, snap.Seq)
}

func TestHost_ClaimBroadcastsThenAcks(t *testing.T) {
	s := startSession(t, 2, authority.Options{RejectAfterWin: true})
	alice, welcome := s.join(t, "alice")
	observer, _ := s.connect(t)

	claim(t, alice, welcome.ParticipantID)

	var ev RingHolderChangedPayload
	expect(t, alice, EvtRingHolderChanged, &ev)
	assert.Equal(t, authority.NoHolder, ev.Previous)
	assert.Equal(t, welcome.ParticipantID, ev.Current)
	assert.Equal(t, uint64(1), ev.Seq)

	var ack AckPayload
	expect(t, alice, EvtAck, &ack)
	assert.Equal(t, AckPayload{Command: CmdClaimRing, Seq: 1, Changed: true}, ack)

	var seen RingHolderChangedPayload
	expect(t, observer, EvtRingHolderChanged, &seen)
	assert.Equal(t, ev, seen)
}

func TestHost_NoOpClaimIsNotBroadcast(t *testing.T) {
	s := startSession(t, 2, authority.Options{RejectAfterWin: true})
	alice, welcome := s.join(t, "alice")
	observer, _ := s.connect(t)

	claim(t, alice, welcome.ParticipantID)
	expect(t, alice, EvtRingHolderChanged, nil)
	expect(t, alice, EvtAck, nil)

	claim(t, alice, welcome.ParticipantID)
	var ack AckPayload
	expect(t, alice, EvtAck, &ack)
	assert.False(t, ack.Changed)
	assert.Equal(t, uint64(1), ack.Seq)

	send(t, alice, CmdDeclareWin, nil)

	// O observador recebe a primeira mudança e, em seguida, direto a vitória.
	expect(t, observer, EvtRingHolderChanged, nil)
	var won MatchWonChangedPayload
	expect(t, observer, EvtMatchWonChanged, &won)
	assert.Equal(t, MatchWonChangedPayload{Previous: false, Current: true, Seq: 2}, won)
}

func TestHost_LateJoinerSnapshotMatchesLastBroadcast(t *testing.T) {
	s := startSession(t, 2, authority.Options{RejectAfterWin: true})
	alice, a := s.join(t, "alice")
	bob, b := s.join(t, "bob")

	claim(t, alice, a.ParticipantID)
	expect(t, alice, EvtRingHolderChanged, nil)
	expect(t, alice, EvtAck, nil)
	expect(t, bob, EvtRingHolderChanged, nil)

	claim(t, bob, b.ParticipantID)
	var last RingHolderChangedPayload
	expect(t, bob, EvtRingHolderChanged, &last)
	expect(t, bob, EvtAck, nil)

	_, snap := s.connect(t)
	assert.Equal(t, last.Current, snap.RingHolder)
	assert.Equal(t, last.Seq, snap.Seq)
	assert.False(t, snap.MatchWon)
}

func TestHost_ReachTownWinsOnlyForHolder(t *testing.T) {
	s := startSession(t, 2, authority.Options{RejectAfterWin: true})
	alice, a := s.join(t, "alice")
	bob, _ := s.join(t, "bob")

	claim(t, alice, a.ParticipantID)
	expect(t, alice, EvtRingHolderChanged, nil)
	expect(t, alice, EvtAck, nil)
	expect(t, bob, EvtRingHolderChanged, nil)

	send(t, bob, CmdReachTown, nil)
	var ack AckPayload
	expect(t, bob, EvtAck, &ack)
	assert.Equal(t, CmdReachTown, ack.Command)
	assert.False(t, ack.Changed)

	send(t, alice, CmdReachTown, nil)
	expect(t, alice, EvtMatchWonChanged, nil)
	expect(t, alice, EvtAck, &ack)
	assert.True(t, ack.Changed)
	expect(t, bob, EvtMatchWonChanged, nil)

	// Vitória repetida: no-op, sem novo broadcast.
	send(t, bob, CmdDeclareWin, nil)
	expect(t, bob, EvtAck, &ack)
	assert.False(t, ack.Changed)
	assert.Equal(t, uint64(2), ack.Seq)
}

func TestHost_ClaimAfterWin(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		s := startSession(t, 1, authority.Options{RejectAfterWin: true})
		alice, a := s.join(t, "alice")

		send(t, alice, CmdDeclareWin, nil)
		expect(t, alice, EvtMatchWonChanged, nil)
		expect(t, alice, EvtAck, nil)

		claim(t, alice, a.ParticipantID)
		var e network.ErrorPayload
		expect(t, alice, EvtError, &e)
		assert.Contains(t, e.Error, "match already won")
	})

	t.Run("applied", func(t *testing.T) {
		s := startSession(t, 1, authority.Options{RejectAfterWin: false})
		alice, a := s.join(t, "alice")

		send(t, alice, CmdDeclareWin, nil)
		expect(t, alice, EvtMatchWonChanged, nil)
		expect(t, alice, EvtAck, nil)

		claim(t, alice, a.ParticipantID)
		var ev RingHolderChangedPayload
		expect(t, alice, EvtRingHolderChanged, &ev)
		assert.Equal(t, uint64(2), ev.Seq)
	})
}

func TestHost_RejectsCommandsBeforeJoin(t *testing.T) {
	s := startSession(t, 1, authority.Options{})
	conn, _ := s.connect(t)

	claim(t, conn, 0)
	var e network.ErrorPayload
	expect(t, conn, EvtError, &e)
	assert.Contains(t, e.Error, CmdClaimRing)

	send(t, conn, CmdJoin, JoinPayload{Name: "x"})
	expect(t, conn, EvtError, &e)
	assert.Contains(t, e.Error, "invalid display name")

	send(t, conn, CmdJoin, nil)
	expect(t, conn, EvtError, nil)
}

func TestHost_ClaimRequiresParticipantID(t *testing.T) {
	s := startSession(t, 1, authority.Options{})
	alice, _ := s.join(t, "alice")

	send(t, alice, CmdClaimRing, map[string]any{})
	var e network.ErrorPayload
	expect(t, alice, EvtError, &e)
	assert.Contains(t, e.Error, "participantId")
}

func TestHost_KnownParticipantsPolicy(t *testing.T) {
	s := startSessionWith(t, 1, func(reg *session.Registry) authority.Options {
		return authority.Options{Policy: authority.KnownParticipants{Roster: reg}}
	})
	alice, _ := s.join(t, "alice")

	claim(t, alice, 99)
	var e network.ErrorPayload
	expect(t, alice, EvtError, &e)
	assert.Contains(t, e.Error, "unknown participant")

	claim(t, alice, authority.NoHolder)
	var ack AckPayload
	expect(t, alice, EvtAck, &ack)
	assert.False(t, ack.Changed)
}

func TestHost_ReadyStartsSession(t *testing.T) {
	s := startSession(t, 2, authority.Options{})
	alice, a := s.join(t, "alice")
	bob, b := s.join(t, "bob")

	send(t, alice, CmdReady, nil)
	send(t, bob, CmdReady, nil)

	for _, conn := range []*websocket.Conn{alice, bob} {
		var started SessionStartedPayload
		expect(t, conn, EvtSessionStarted, &started)
		assert.Equal(t, 2, started.Participants)

		var ring EntityPlacedPayload
		expect(t, conn, EvtEntityPlaced, &ring)
		assert.Equal(t, "ring", ring.Name)
		assert.Equal(t, grid.Cave, ring.Region)
		assert.True(t, grid.DefaultRegions[grid.Cave].Contains(ring.Cell))

		var first, second SpawnAssignedPayload
		expect(t, conn, EvtSpawnAssigned, &first)
		expect(t, conn, EvtSpawnAssigned, &second)
		assert.Equal(t, a.ParticipantID, first.ParticipantID)
		assert.Equal(t, b.ParticipantID, second.ParticipantID)
		assert.NotEqual(t, first.Cell, second.Cell)
		assert.Equal(t, grid.Outdoor, first.Region)
	}
}

func TestHost_SnapshotThroughHub(t *testing.T) {
	s := startSession(t, 1, authority.Options{})
	alice, a := s.join(t, "alice")
	claim(t, alice, a.ParticipantID)
	expect(t, alice, EvtRingHolderChanged, nil)
	expect(t, alice, EvtAck, nil)

	var snap authority.Snapshot
	err := s.hub.Do(context.Background(), func() { snap = s.host.Snapshot() })
	require.NoError(t, err)
	assert.Equal(t, authority.Snapshot{RingHolder: a.ParticipantID, Seq: 1}, snap)
}

func TestHost_JoinRefusedWhenFullOrStarted(t *testing.T) {
	s := startSession(t, 1, authority.Options{})
	alice, _ := s.join(t, "alice")

	extra, _ := s.connect(t)
	send(t, extra, CmdJoin, JoinPayload{Name: "bob"})
	var e network.ErrorPayload
	expect(t, extra, EvtError, &e)
	assert.Contains(t, e.Error, "seats")

	send(t, alice, CmdReady, nil)
	expect(t, alice, EvtSessionStarted, nil)
	expect(t, alice, EvtEntityPlaced, nil)
	expect(t, alice, EvtSpawnAssigned, nil)

	// READY repetido depois do início recebe resposta em vez de silêncio.
	send(t, alice, CmdReady, nil)
	expect(t, alice, EvtError, &e)
	assert.Contains(t, e.Error, "already started")
}

type failingPopulator struct{ err error }

func (f failingPopulator) PopulateStatic(context.Context) ([]session.Placed, error) {
	return nil, f.err
}

func TestHost_StartFailureReachesEveryParticipant(t *testing.T) {
	s := newTestSession(t, 2, func(*session.Registry) authority.Options { return authority.Options{} },
		failingPopulator{err: grid.ErrSearchExhausted})
	alice, _ := s.join(t, "alice")
	bob, _ := s.join(t, "bob")

	send(t, alice, CmdReady, nil)
	send(t, bob, CmdReady, nil)

	for _, conn := range []*websocket.Conn{alice, bob} {
		var e network.ErrorPayload
		expect(t, conn, EvtError, &e)
		assert.Contains(t, e.Error, "session start failed")
	}

	send(t, bob, CmdReady, nil)
	var e network.ErrorPayload
	expect(t, bob, EvtError, &e)
	assert.Contains(t, e.Error, "already started")
}
