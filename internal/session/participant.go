package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"ringhunt/internal/authority"
)

// Limites do nome de exibição, os mesmos das telas de lobby.
const (
	MinNameLength = 2
	MaxNameLength = 15
)

var (
	ErrInvalidName         = errors.New("session: invalid display name")
	ErrParticipantNotFound = errors.New("session: participant not found")
)

// Participant é um jogador conectado. Não é estado replicado, mas é o sujeito de RingHolder.
type Participant struct {
	ID        authority.ParticipantID `json:"participantId"`
	SessionID string                  `json:"sessionId"`
	Name      string                  `json:"name"`
}

// Registry guarda os participantes da sessão. Assim como o Store, é acessado
// somente pela goroutine do Hub.
type Registry struct {
	byID   map[authority.ParticipantID]*Participant
	nextID authority.ParticipantID
}

func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[authority.ParticipantID]*Participant),
	}
}

// ValidateName aplica as regras de nome do lobby.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinNameLength || n > MaxNameLength {
		return fmt.Errorf("%w: %q must have between %d and %d characters", ErrInvalidName, name, MinNameLength, MaxNameLength)
	}
	return nil
}

// Add cria um participante com o próximo id livre.
func (r *Registry) Add(name string) (*Participant, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	p := &Participant{
		ID:        r.nextID,
		SessionID: uuid.NewString(),
		Name:      strings.TrimSpace(name),
	}
	r.nextID++
	r.byID[p.ID] = p
	return p, nil
}

func (r *Registry) Remove(id authority.ParticipantID) {
	delete(r.byID, id)
}

func (r *Registry) Get(id authority.ParticipantID) (*Participant, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrParticipantNotFound, id)
	}
	return p, nil
}

// Has satisfaz authority.Roster.
func (r *Registry) Has(id authority.ParticipantID) bool {
	_, ok := r.byID[id]
	return ok
}

func (r *Registry) Len() int { return len(r.byID) }

// List devolve os participantes ordenados por id.
func (r *Registry) List() []Participant {
	out := make([]Participant, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
