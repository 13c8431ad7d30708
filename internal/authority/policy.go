package authority

import "fmt"

// Policy é o gancho de validação do lado da autoridade. A política padrão aceita
// tudo; trocar a política não muda o contrato de rede.
type Policy interface {
	AllowRingClaim(id ParticipantID) error
}

// AcceptAll aceita qualquer pedido. É o padrão.
type AcceptAll struct{}

func (AcceptAll) AllowRingClaim(ParticipantID) error { return nil }

// Roster é o que KnownParticipants precisa saber sobre os jogadores.
type Roster interface {
	Has(id ParticipantID) bool
}

// KnownParticipants recusa ids que não estão na sessão. NoHolder é sempre aceito.
type KnownParticipants struct {
	Roster Roster
}

func (p KnownParticipants) AllowRingClaim(id ParticipantID) error {
	if id == NoHolder {
		return nil
	}
	if p.Roster == nil || !p.Roster.Has(id) {
		return fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}
	return nil
}

// PolicyFunc adapta uma função a Policy.
type PolicyFunc func(id ParticipantID) error

func (f PolicyFunc) AllowRingClaim(id ParticipantID) error { return f(id) }
