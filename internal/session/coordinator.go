package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"ringhunt/internal/authority"
	"ringhunt/internal/grid"
)

var (
	// ErrSessionStarted recusa JOIN e READY depois da inicialização.
	ErrSessionStarted = errors.New("session: already started")
	// ErrSessionFull recusa JOIN quando todos os lugares estão ocupados.
	ErrSessionFull = errors.New("session: all seats are taken")
)

// Placed é uma entidade estática colocada no mapa (o anel, por exemplo).
type Placed struct {
	Name      string         `json:"name"`
	Placement grid.Placement `json:"placement"`
}

// Spawn é a posição inicial atribuída a um participante.
type Spawn struct {
	Participant Participant    `json:"participant"`
	Placement   grid.Placement `json:"placement"`
}

// StaticPopulator coloca as entidades estáticas e marca as camadas de ocupação.
type StaticPopulator interface {
	PopulateStatic(ctx context.Context) ([]Placed, error)
}

// SpawnAssigner escolhe a posição inicial de um participante.
type SpawnAssigner interface {
	AssignSpawn(ctx context.Context, p Participant) (grid.Placement, error)
}

// Start é o resultado da inicialização única da sessão.
type Start struct {
	Entities []Placed
	Spawns   []Spawn
}

// Coordinator sequencia a inicialização da sessão. Ele é dono da referência ao
// Store da sessão e a repassa aos colaboradores; não existe acesso global.
type Coordinator struct {
	store     *authority.Store
	registry  *Registry
	populator StaticPopulator
	assigner  SpawnAssigner
	expected  int

	ready   map[authority.ParticipantID]bool
	started bool
	logger  hclog.Logger
}

// CoordinatorConfig reúne as dependências do Coordinator.
type CoordinatorConfig struct {
	Store     *authority.Store
	Registry  *Registry
	Populator StaticPopulator
	Assigner  SpawnAssigner
	// Expected é quantos participantes precisam estar prontos para a sessão começar.
	Expected int
	Logger   hclog.Logger
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil || cfg.Registry == nil || cfg.Populator == nil || cfg.Assigner == nil {
		return nil, fmt.Errorf("session: coordinator requires store, registry, populator and assigner")
	}
	if cfg.Expected < 1 {
		return nil, fmt.Errorf("session: expected participants must be at least 1, got %d", cfg.Expected)
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &Coordinator{
		store:     cfg.Store,
		registry:  cfg.Registry,
		populator: cfg.Populator,
		assigner:  cfg.Assigner,
		expected:  cfg.Expected,
		ready:     make(map[authority.ParticipantID]bool),
		logger:    cfg.Logger.Named("coordinator"),
	}, nil
}

// Store devolve o Store autoritativo da sessão.
func (c *Coordinator) Store() *authority.Store { return c.store }

// Registry devolve o registro de participantes da sessão.
func (c *Coordinator) Registry() *Registry { return c.registry }

func (c *Coordinator) Started() bool { return c.started }

// Admit registra um novo participante, se ainda houver lugar e a sessão não tiver começado.
func (c *Coordinator) Admit(name string) (*Participant, error) {
	if c.started {
		return nil, ErrSessionStarted
	}
	if c.registry.Len() >= c.expected {
		return nil, fmt.Errorf("%w: %d of %d", ErrSessionFull, c.registry.Len(), c.expected)
	}
	return c.registry.Add(name)
}

// ReadyCount devolve quantos participantes já avisaram que carregaram o mundo.
func (c *Coordinator) ReadyCount() int { return len(c.ready) }

// MarkReady registra que o participante terminou de carregar o mundo. Quando
// todos os esperados estão prontos, roda a inicialização uma única vez e devolve
// o resultado; nas outras chamadas devolve nil. Depois do início devolve ErrSessionStarted.
func (c *Coordinator) MarkReady(ctx context.Context, id authority.ParticipantID) (*Start, error) {
	if !c.registry.Has(id) {
		return nil, fmt.Errorf("%w: %d", ErrParticipantNotFound, id)
	}
	if c.started {
		return nil, ErrSessionStarted
	}
	c.ready[id] = true
	c.logger.Debug("participant ready", "participant", id, "ready", len(c.ready), "expected", c.expected)
	if len(c.ready) < c.expected {
		return nil, nil
	}

	c.started = true
	return c.start(ctx)
}

// Unready desfaz o aviso de pronto (participante saiu antes do início).
func (c *Coordinator) Unready(id authority.ParticipantID) {
	delete(c.ready, id)
}

// start popula as camadas ANTES de escolher os spawns: a busca de spawn
// precisa enxergar as entidades estáticas como ocupadas.
func (c *Coordinator) start(ctx context.Context) (*Start, error) {
	c.logger.Info("all participants ready, starting session", "participants", len(c.ready))

	entities, err := c.populator.PopulateStatic(ctx)
	if err != nil {
		return nil, fmt.Errorf("populate static entities: %w", err)
	}

	ids := make([]authority.ParticipantID, 0, len(c.ready))
	for id := range c.ready {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := &Start{Entities: entities}
	var errs *multierror.Error
	for _, id := range ids {
		p, err := c.registry.Get(id)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		placement, err := c.assigner.AssignSpawn(ctx, *p)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("spawn participant %d: %w", id, err))
			continue
		}
		result.Spawns = append(result.Spawns, Spawn{Participant: *p, Placement: placement})
	}

	if err := errs.ErrorOrNil(); err != nil {
		c.logger.Warn("session started with spawn failures", "error", err)
		return result, err
	}
	return result, nil
}
