// Package authority guarda as duas variáveis replicadas da partida (quem está com
// o anel e se a partida foi vencida) e media todas as escritas nelas.
//
// O Store não tem lock: ele é de um único escritor. O ator do Host serializa todos
// os comandos antes de chamá-lo, do mesmo jeito que o network.Hub serializa eventos.
package authority

import (
	"errors"
	"fmt"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
)

// ParticipantID identifica um jogador dentro da sessão.
type ParticipantID int

// NoHolder é o valor de RingHolder quando ninguém está com o anel.
const NoHolder ParticipantID = -1

var (
	// ErrSessionClosed rejeita escritas em RingHolder depois que a partida foi vencida.
	ErrSessionClosed = errors.New("authority: session closed, match already won")
	// ErrUnknownParticipant é devolvido pela política KnownParticipants.
	ErrUnknownParticipant = errors.New("authority: unknown participant")
	// ErrRejected envolve qualquer recusa vinda de uma Policy.
	ErrRejected = errors.New("authority: command rejected")
)

// Kind diz qual variável mudou.
type Kind string

const (
	RingHolderChanged Kind = "RING_HOLDER_CHANGED"
	MatchWonChanged   Kind = "MATCH_WON_CHANGED"
)

// Event é uma notificação de mudança. Seq cresce monotonicamente por Store.
type Event struct {
	Kind Kind   `json:"kind"`
	Seq  uint64 `json:"seq"`

	PreviousHolder ParticipantID `json:"previousHolder"`
	Holder         ParticipantID `json:"holder"`

	PreviousWon bool `json:"previousWon"`
	Won         bool `json:"won"`
}

// Snapshot é o estado atual entregue a quem entra na sessão.
type Snapshot struct {
	RingHolder ParticipantID `json:"ringHolder"`
	MatchWon   bool          `json:"matchWon"`
	Seq        uint64        `json:"seq"`
}

// Ack confirma um comando. Changed=false significa no-op (valor igual ao atual).
type Ack struct {
	Seq     uint64 `json:"seq"`
	Changed bool   `json:"changed"`
}

// Listener recebe os eventos de forma síncrona, na ordem de inscrição.
type Listener func(Event)

type subscription struct {
	id       uint64
	listener Listener
}

// Options configura o Store.
type Options struct {
	Policy Policy
	// RejectAfterWin recusa escritas em RingHolder depois de MatchWon=true.
	// Quando falso a escrita é aplicada em silêncio.
	RejectAfterWin bool
	Logger         hclog.Logger
}

// Store é a cópia autoritativa de RingHolder e MatchWon.
type Store struct {
	ringHolder ParticipantID
	matchWon   bool
	seq        uint64

	policy         Policy
	rejectAfterWin bool
	logger         hclog.Logger

	subs       []subscription
	nextSubID  uint64
	delivering bool
	pendingOff []uint64
	// Eventos gerados por listeners durante uma entrega. Saem em FIFO
	// depois que a entrega atual termina.
	queue []Event
}

func NewStore(opts Options) *Store {
	if opts.Policy == nil {
		opts.Policy = AcceptAll{}
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Store{
		ringHolder:     NoHolder,
		policy:         opts.Policy,
		rejectAfterWin: opts.RejectAfterWin,
		logger:         opts.Logger.Named("authority"),
	}
}

func (s *Store) RingHolder() ParticipantID { return s.ringHolder }
func (s *Store) MatchWon() bool            { return s.matchWon }

func (s *Store) Snapshot() Snapshot {
	return Snapshot{RingHolder: s.ringHolder, MatchWon: s.matchWon, Seq: s.seq}
}

// ProposeRingHolder aplica "última escrita vence". Só há broadcast quando o valor muda.
func (s *Store) ProposeRingHolder(id ParticipantID) (Ack, error) {
	if s.matchWon && s.rejectAfterWin {
		metrics.IncrCounter([]string{"authority", "rejected"}, 1)
		return Ack{Seq: s.seq}, ErrSessionClosed
	}
	if err := s.policy.AllowRingClaim(id); err != nil {
		metrics.IncrCounter([]string{"authority", "rejected"}, 1)
		s.logger.Warn("ring claim rejected", "participant", id, "error", err)
		return Ack{Seq: s.seq}, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	previous := s.ringHolder
	if previous == id {
		metrics.IncrCounter([]string{"authority", "noop"}, 1)
		return Ack{Seq: s.seq}, nil
	}

	s.ringHolder = id
	s.seq++
	s.logger.Info("ring holder changed", "previous", previous, "current", id, "seq", s.seq)
	s.broadcast(Event{
		Kind:           RingHolderChanged,
		Seq:            s.seq,
		PreviousHolder: previous,
		Holder:         id,
	})
	return Ack{Seq: s.seq, Changed: true}, nil
}

// ProposeMatchWon é monotônico: só a transição false -> true gera broadcast.
func (s *Store) ProposeMatchWon() (Ack, error) {
	if s.matchWon {
		metrics.IncrCounter([]string{"authority", "noop"}, 1)
		return Ack{Seq: s.seq}, nil
	}

	s.matchWon = true
	s.seq++
	s.logger.Info("match won", "holder", s.ringHolder, "seq", s.seq)
	s.broadcast(Event{
		Kind:        MatchWonChanged,
		Seq:         s.seq,
		PreviousWon: false,
		Won:         true,
	})
	return Ack{Seq: s.seq, Changed: true}, nil
}

// Subscribe registra um listener e devolve a função que cancela a inscrição.
// Cancelar durante uma entrega só tem efeito quando a entrega termina.
func (s *Store) Subscribe(l Listener) (cancel func()) {
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscription{id: id, listener: l})
	return func() { s.unsubscribe(id) }
}

func (s *Store) unsubscribe(id uint64) {
	if s.delivering {
		s.pendingOff = append(s.pendingOff, id)
		return
	}
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// broadcast entrega ev a todos os listeners. Uma escrita feita por um listener
// entra na fila e só é entregue depois do evento atual, preservando a ordem de Seq.
func (s *Store) broadcast(ev Event) {
	metrics.IncrCounter([]string{"authority", "broadcast"}, 1)

	s.queue = append(s.queue, ev)
	if s.delivering {
		return
	}

	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]

		s.delivering = true
		for _, sub := range s.subs {
			sub.listener(next)
		}
		s.delivering = false

		pending := s.pendingOff
		s.pendingOff = nil
		for _, id := range pending {
			s.unsubscribe(id)
		}
	}
}
