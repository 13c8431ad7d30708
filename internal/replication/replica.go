package replication

import (
	"errors"
	"fmt"
	"sync"

	"ringhunt/internal/authority"
	"ringhunt/internal/network"
)

var (
	// ErrNotSynced indica um evento recebido antes do snapshot.
	ErrNotSynced = errors.New("replication: event before snapshot")
	// ErrGap indica que algum evento anterior se perdeu. O evento é aplicado mesmo
	// assim (ele carrega o valor completo), mas a réplica fica sabendo da perda.
	ErrGap = errors.New("replication: sequence gap")
	// ErrDuplicate indica um evento já aplicado (Seq <= último). Nada muda.
	ErrDuplicate = errors.New("replication: duplicate event")
)

// Replica é a cópia somente-leitura do estado autoritativo mantida por um cliente.
// Os valores só mudam pelo snapshot e pelos eventos do host.
type Replica struct {
	mu         sync.RWMutex
	ringHolder authority.ParticipantID
	matchWon   bool
	seq        uint64
	synced     bool

	onRingHolder []func(previous, current authority.ParticipantID)
	onMatchWon   []func(previous, current bool)
}

func NewReplica() *Replica {
	return &Replica{ringHolder: authority.NoHolder}
}

// OnRingHolderChanged registra um observador (ex.: o aviso "um jogador pegou o anel").
// Os observadores rodam na goroutine que aplica o evento, na ordem de registro.
func (r *Replica) OnRingHolderChanged(fn func(previous, current authority.ParticipantID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRingHolder = append(r.onRingHolder, fn)
}

func (r *Replica) OnMatchWonChanged(fn func(previous, current bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMatchWon = append(r.onMatchWon, fn)
}

// State devolve os valores atuais da réplica.
func (r *Replica) State() (holder authority.ParticipantID, won bool, seq uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ringHolder, r.matchWon, r.seq
}

func (r *Replica) Synced() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.synced
}

// ApplySnapshot sincroniza a réplica. Um snapshot mais antigo que o estado atual é ignorado.
func (r *Replica) ApplySnapshot(s SnapshotPayload) {
	r.mu.Lock()
	if r.synced && s.Seq <= r.seq {
		r.mu.Unlock()
		return
	}
	r.ringHolder = s.RingHolder
	r.matchWon = s.MatchWon
	r.seq = s.Seq
	r.synced = true
	r.mu.Unlock()
}

// ApplyRingHolder aplica um RING_HOLDER_CHANGED. Devolve false (e ErrDuplicate) para duplicados.
func (r *Replica) ApplyRingHolder(ev RingHolderChangedPayload) (bool, error) {
	r.mu.Lock()
	gap, err := r.advance(ev.Seq)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}
	r.ringHolder = ev.Current
	observers := r.onRingHolder
	r.mu.Unlock()

	for _, fn := range observers {
		fn(ev.Previous, ev.Current)
	}
	return true, gap
}

// ApplyMatchWon aplica um MATCH_WON_CHANGED. Devolve false para duplicados.
func (r *Replica) ApplyMatchWon(ev MatchWonChangedPayload) (bool, error) {
	r.mu.Lock()
	gap, err := r.advance(ev.Seq)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}
	r.matchWon = ev.Current
	observers := r.onMatchWon
	r.mu.Unlock()

	for _, fn := range observers {
		fn(ev.Previous, ev.Current)
	}
	return true, gap
}

// advance valida a sequência. Precisa do lock.
func (r *Replica) advance(seq uint64) (gap error, err error) {
	if !r.synced {
		return nil, ErrNotSynced
	}
	if seq <= r.seq {
		return nil, ErrDuplicate
	}
	if seq > r.seq+1 {
		gap = fmt.Errorf("%w: expected %d, got %d", ErrGap, r.seq+1, seq)
	}
	r.seq = seq
	return gap, nil
}

// Handle aplica uma mensagem do host, se ela for de estado replicado.
// Devolve handled=false para mensagens de outros tipos.
func (r *Replica) Handle(msg network.Message) (handled bool, err error) {
	switch msg.Type {
	case EvtSnapshot:
		var s SnapshotPayload
		if err := msg.Decode(&s); err != nil {
			return true, err
		}
		r.ApplySnapshot(s)
		return true, nil

	case EvtRingHolderChanged:
		var ev RingHolderChangedPayload
		if err := msg.Decode(&ev); err != nil {
			return true, err
		}
		_, err := r.ApplyRingHolder(ev)
		return true, ignoreDuplicate(err)

	case EvtMatchWonChanged:
		var ev MatchWonChangedPayload
		if err := msg.Decode(&ev); err != nil {
			return true, err
		}
		_, err := r.ApplyMatchWon(ev)
		return true, ignoreDuplicate(err)
	}
	return false, nil
}

func ignoreDuplicate(err error) error {
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}
