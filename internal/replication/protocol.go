// Package replication define o protocolo entre participantes e o host autoritativo:
// comandos que propõem mudanças, eventos que replicam o estado confirmado e a
// réplica somente-leitura mantida por cada cliente.
package replication

import (
	"ringhunt/internal/authority"
	"ringhunt/internal/grid"
	"ringhunt/internal/network"
)

// Comandos (cliente -> host).
const (
	CmdJoin       = "JOIN"
	CmdReady      = "READY"
	CmdClaimRing  = "CLAIM_RING"
	CmdReachTown  = "REACH_TOWN"
	CmdDeclareWin = "DECLARE_WIN"
)

// Eventos (host -> cliente).
const (
	EvtWelcome           = "WELCOME"
	EvtSnapshot          = "SNAPSHOT"
	EvtRingHolderChanged = string(authority.RingHolderChanged)
	EvtMatchWonChanged   = string(authority.MatchWonChanged)
	EvtAck               = "ACK"
	EvtSessionStarted    = "SESSION_STARTED"
	EvtEntityPlaced      = "ENTITY_PLACED"
	EvtSpawnAssigned     = "SPAWN_ASSIGNED"
	EvtError             = "ERROR"
)

type JoinPayload struct {
	Name string `json:"name"`
}

type ClaimRingPayload struct {
	ParticipantID *authority.ParticipantID `json:"participantId"`
}

type WelcomePayload struct {
	ParticipantID authority.ParticipantID `json:"participantId"`
	SessionID     string                  `json:"sessionId"`
	Name          string                  `json:"name"`
}

type SnapshotPayload struct {
	RingHolder authority.ParticipantID `json:"ringHolder"`
	MatchWon   bool                    `json:"matchWon"`
	Seq        uint64                  `json:"seq"`
}

type RingHolderChangedPayload struct {
	Previous authority.ParticipantID `json:"previous"`
	Current  authority.ParticipantID `json:"current"`
	Seq      uint64                  `json:"seq"`
}

type MatchWonChangedPayload struct {
	Previous bool   `json:"previous"`
	Current  bool   `json:"current"`
	Seq      uint64 `json:"seq"`
}

type AckPayload struct {
	Command string `json:"command"`
	Seq     uint64 `json:"seq"`
	Changed bool   `json:"changed"`
}

type SessionStartedPayload struct {
	Participants int `json:"participants"`
}

type EntityPlacedPayload struct {
	Name   string          `json:"name"`
	Region grid.RegionName `json:"region"`
	Cell   grid.Cell       `json:"cell"`
	World  grid.Vec2       `json:"world"`
}

type SpawnAssignedPayload struct {
	ParticipantID authority.ParticipantID `json:"participantId"`
	Region        grid.RegionName         `json:"region"`
	Cell          grid.Cell               `json:"cell"`
	World         grid.Vec2               `json:"world"`
}

func snapshotPayload(s authority.Snapshot) SnapshotPayload {
	return SnapshotPayload{RingHolder: s.RingHolder, MatchWon: s.MatchWon, Seq: s.Seq}
}

// snapshotMessage monta a mensagem SNAPSHOT.
func snapshotMessage(s authority.Snapshot) network.Message {
	return network.MustMessage(EvtSnapshot, snapshotPayload(s))
}

// eventMessage converte um evento do Store na mensagem replicada.
func eventMessage(ev authority.Event) network.Message {
	msgType, payload := eventPayload(ev)
	return network.MustMessage(msgType, payload)
}

// eventPayload converte um evento do Store no tipo e payload de rede.
func eventPayload(ev authority.Event) (string, any) {
	switch ev.Kind {
	case authority.MatchWonChanged:
		return EvtMatchWonChanged, MatchWonChangedPayload{Previous: ev.PreviousWon, Current: ev.Won, Seq: ev.Seq}
	default:
		return EvtRingHolderChanged, RingHolderChangedPayload{Previous: ev.PreviousHolder, Current: ev.Holder, Seq: ev.Seq}
	}
}
