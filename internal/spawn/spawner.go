// Package spawn implementa os colaboradores que colocam coisas no mapa usando a
// busca espacial: entidades estáticas (o anel) e as posições iniciais dos jogadores.
package spawn

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"ringhunt/internal/grid"
	"ringhunt/internal/session"
)

// Entity descreve uma entidade estática a ser colocada no início da sessão.
type Entity struct {
	Name   string
	Region grid.RegionName
	Margin int
	// ExclusionHalfWidth < 0 significa sem exclusão do centro.
	ExclusionHalfWidth int
}

func (e Entity) query() grid.Query {
	q := grid.Query{Region: e.Region, Margin: e.Margin}
	if e.ExclusionHalfWidth >= 0 {
		q = q.ExcludingCenter(e.ExclusionHalfWidth)
	}
	return q
}

// DefaultEntities: o anel fica escondido na caverna.
var DefaultEntities = []Entity{
	{Name: "ring", Region: grid.Cave, Margin: 1, ExclusionHalfWidth: -1},
}

// occupy marca a célula na camada de props para que buscas seguintes a vejam ocupada.
func occupy(g *grid.Grid, c grid.Cell) {
	if l := g.Layer(grid.LayerProps); l != nil {
		l.Set(c)
	}
}

// PrefabSpawner coloca as entidades estáticas. Implementa session.StaticPopulator.
type PrefabSpawner struct {
	searcher *grid.Searcher
	entities []Entity
	logger   hclog.Logger
}

func NewPrefabSpawner(searcher *grid.Searcher, entities []Entity, logger hclog.Logger) *PrefabSpawner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &PrefabSpawner{
		searcher: searcher,
		entities: entities,
		logger:   logger.Named("prefabs"),
	}
}

func (s *PrefabSpawner) PopulateStatic(ctx context.Context) ([]session.Placed, error) {
	placed := make([]session.Placed, 0, len(s.entities))
	for _, e := range s.entities {
		if err := ctx.Err(); err != nil {
			return placed, err
		}
		p, err := s.searcher.FindOpenLocation(e.query())
		if err != nil {
			return placed, fmt.Errorf("place %s: %w", e.Name, err)
		}
		occupy(s.searcher.Grid(), p.Cell)
		s.logger.Info("entity placed", "entity", e.Name, "region", p.Region, "cell", p.Cell.String(), "attempts", p.Attempts)
		placed = append(placed, session.Placed{Name: e.Name, Placement: p})
	}
	return placed, nil
}

// PlayerSpawner escolhe a posição inicial dos participantes. Implementa session.SpawnAssigner.
type PlayerSpawner struct {
	searcher *grid.Searcher
	spawn    Entity
	logger   hclog.Logger
}

// DefaultPlayerSpawn: ao ar livre, longe do centro do mapa.
var DefaultPlayerSpawn = Entity{Name: "player", Region: grid.Outdoor, Margin: 1, ExclusionHalfWidth: 5}

func NewPlayerSpawner(searcher *grid.Searcher, spawn Entity, logger hclog.Logger) *PlayerSpawner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &PlayerSpawner{
		searcher: searcher,
		spawn:    spawn,
		logger:   logger.Named("players"),
	}
}

func (s *PlayerSpawner) AssignSpawn(ctx context.Context, p session.Participant) (grid.Placement, error) {
	if err := ctx.Err(); err != nil {
		return grid.Placement{}, err
	}
	placement, err := s.searcher.FindOpenLocation(s.spawn.query())
	if err != nil {
		return grid.Placement{}, err
	}
	occupy(s.searcher.Grid(), placement.Cell)
	s.logger.Info("spawn assigned", "participant", p.ID, "name", p.Name, "cell", placement.Cell.String())
	return placement, nil
}
