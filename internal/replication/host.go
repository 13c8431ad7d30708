package replication

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"

	"ringhunt/internal/authority"
	"ringhunt/internal/network"
	"ringhunt/internal/session"
)

// CommandHandlerFunc é a assinatura de todas as funções que tratam comandos.
type CommandHandlerFunc func(h *Host, c *network.Client, p *session.Participant, payload json.RawMessage)

// Broadcaster entrega uma mensagem a todos os clientes conectados (network.Hub).
type Broadcaster interface {
	Broadcast(msg network.Message)
}

// Host é o lado autoritativo da sessão. Implementa network.EventHandler; toda
// chamada chega pela goroutine do Hub, então Store, Registry e Coordinator
// nunca são acessados em paralelo.
type Host struct {
	coordinator *session.Coordinator
	store       *authority.Store
	registry    *session.Registry
	out         Broadcaster
	logger      hclog.Logger

	participants map[*network.Client]*session.Participant

	// Um roteador por estado: antes e depois do JOIN.
	guestRouter  map[string]CommandHandlerFunc
	playerRouter map[string]CommandHandlerFunc
}

// NewHost cria o Host. O Store e o Registry vêm do Coordinator da sessão.
func NewHost(coordinator *session.Coordinator, logger hclog.Logger) *Host {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	h := &Host{
		coordinator:  coordinator,
		store:        coordinator.Store(),
		registry:     coordinator.Registry(),
		logger:       logger.Named("host"),
		participants: make(map[*network.Client]*session.Participant),
		guestRouter:  make(map[string]CommandHandlerFunc),
		playerRouter: make(map[string]CommandHandlerFunc),
	}
	h.registerHandlers()
	return h
}

// Attach liga o Host ao transporte e inscreve o repasse dos eventos do Store.
// Deve ser chamado antes do Hub começar a rodar.
func (h *Host) Attach(out Broadcaster) (detach func()) {
	h.out = out
	return h.store.Subscribe(h.relayEvent)
}

func (h *Host) registerHandlers() {
	h.guestRouter[CmdJoin] = handleJoin

	h.playerRouter[CmdReady] = handleReady
	h.playerRouter[CmdClaimRing] = handleClaimRing
	h.playerRouter[CmdReachTown] = handleReachTown
	h.playerRouter[CmdDeclareWin] = handleDeclareWin
}

// relayEvent é o listener do Store: transforma o evento em mensagem e faz broadcast.
func (h *Host) relayEvent(ev authority.Event) {
	h.out.Broadcast(eventMessage(ev))
}

// --- Implementação da Interface network.EventHandler ---

// OnConnect entrega o snapshot antes de qualquer broadcast chegar a este cliente.
func (h *Host) OnConnect(c *network.Client) {
	c.Send(snapshotMessage(h.store.Snapshot()))
	h.logger.Debug("snapshot sent", "client", c.ID(), "addr", c.RemoteAddr())
}

func (h *Host) OnDisconnect(c *network.Client) {
	p, ok := h.participants[c]
	if !ok {
		return
	}
	delete(h.participants, c)
	h.registry.Remove(p.ID)
	h.coordinator.Unready(p.ID)
	h.logger.Info("participant left", "participant", p.ID, "name", p.Name, "remaining", h.registry.Len())
}

func (h *Host) OnMessage(c *network.Client, msg network.Message) {
	p := h.participants[c]

	router := h.guestRouter
	if p != nil {
		router = h.playerRouter
	}

	handler, found := router[msg.Type]
	if !found {
		h.sendError(c, "unknown or invalid command for current state: %s", msg.Type)
		return
	}
	metrics.IncrCounterWithLabels([]string{"replication", "commands"}, 1, []metrics.Label{{Name: "type", Value: msg.Type}})
	handler(h, c, p, msg.Payload)
}

func (h *Host) sendError(c *network.Client, format string, args ...any) {
	c.Send(network.NewErrorMessage(format, args...))
}

func (h *Host) sendAck(c *network.Client, command string, ack authority.Ack) {
	c.Send(network.MustMessage(EvtAck, AckPayload{Command: command, Seq: ack.Seq, Changed: ack.Changed}))
}

// --- Handlers ---

func handleJoin(h *Host, c *network.Client, _ *session.Participant, payload json.RawMessage) {
	var req JoinPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(c, "invalid payload: 'name' is required")
		return
	}
	p, err := h.coordinator.Admit(req.Name)
	if err != nil {
		h.sendError(c, "%v", err)
		return
	}
	h.participants[c] = p
	h.logger.Info("participant joined", "participant", p.ID, "name", p.Name, "client", c.ID())
	c.Send(network.MustMessage(EvtWelcome, WelcomePayload{ParticipantID: p.ID, SessionID: p.SessionID, Name: p.Name}))
}

func handleReady(h *Host, c *network.Client, p *session.Participant, _ json.RawMessage) {
	start, err := h.coordinator.MarkReady(context.Background(), p.ID)
	if start == nil {
		switch {
		case err == nil:
		case errors.Is(err, session.ErrSessionStarted), errors.Is(err, session.ErrParticipantNotFound):
			h.sendError(c, "%v", err)
		default:
			// A inicialização não roda de novo: todos precisam saber.
			h.logger.Error("session start failed", "error", err)
			h.out.Broadcast(network.NewErrorMessage("session start failed: %v", err))
		}
		return
	}

	h.out.Broadcast(network.MustMessage(EvtSessionStarted, SessionStartedPayload{Participants: len(start.Spawns)}))
	for _, e := range start.Entities {
		h.out.Broadcast(network.MustMessage(EvtEntityPlaced, EntityPlacedPayload{
			Name:   e.Name,
			Region: e.Placement.Region,
			Cell:   e.Placement.Cell,
			World:  e.Placement.World,
		}))
	}
	for _, s := range start.Spawns {
		h.out.Broadcast(network.MustMessage(EvtSpawnAssigned, SpawnAssignedPayload{
			ParticipantID: s.Participant.ID,
			Region:        s.Placement.Region,
			Cell:          s.Placement.Cell,
			World:         s.Placement.World,
		}))
	}
	if err != nil {
		h.logger.Warn("some participants could not be spawned", "error", err)
		h.out.Broadcast(network.NewErrorMessage("spawn failed: %v", err))
	}
}

func handleClaimRing(h *Host, c *network.Client, p *session.Participant, payload json.RawMessage) {
	var req ClaimRingPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.ParticipantID == nil {
		h.sendError(c, "invalid payload: 'participantId' field is required and must be a number")
		return
	}
	ack, err := h.store.ProposeRingHolder(*req.ParticipantID)
	if err != nil {
		h.replyRejected(c, CmdClaimRing, err)
		return
	}
	h.sendAck(c, CmdClaimRing, ack)
}

// handleReachTown: o participante chegou à cidade. Só vence quem está com o anel;
// para os outros é um no-op.
func handleReachTown(h *Host, c *network.Client, p *session.Participant, _ json.RawMessage) {
	if h.store.RingHolder() != p.ID {
		h.sendAck(c, CmdReachTown, authority.Ack{Seq: h.store.Snapshot().Seq})
		return
	}
	ack, err := h.store.ProposeMatchWon()
	if err != nil {
		h.replyRejected(c, CmdReachTown, err)
		return
	}
	h.sendAck(c, CmdReachTown, ack)
}

func handleDeclareWin(h *Host, c *network.Client, p *session.Participant, _ json.RawMessage) {
	ack, err := h.store.ProposeMatchWon()
	if err != nil {
		h.replyRejected(c, CmdDeclareWin, err)
		return
	}
	h.sendAck(c, CmdDeclareWin, ack)
}

func (h *Host) replyRejected(c *network.Client, command string, err error) {
	switch {
	case errors.Is(err, authority.ErrSessionClosed), errors.Is(err, authority.ErrRejected):
		h.logger.Debug("command rejected", "command", command, "client", c.ID(), "error", err)
	default:
		h.logger.Error("command failed", "command", command, "client", c.ID(), "error", err)
	}
	h.sendError(c, "%s rejected: %v", command, err)
}

// Snapshot devolve o estado atual. Assim como os handlers, precisa rodar na
// goroutine do Hub (use network.Hub.Do de fora dela).
func (h *Host) Snapshot() authority.Snapshot {
	return h.store.Snapshot()
}
