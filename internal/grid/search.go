package grid

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultMaxAttempts é o orçamento de sorteios de uma busca.
const DefaultMaxAttempts = 100

var (
	// ErrInvalidRegion indica um nome de região desconhecido. Nunca é convertido em região padrão.
	ErrInvalidRegion = errors.New("grid: invalid region")
	// ErrSearchExhausted indica que nenhuma célula livre foi encontrada dentro do orçamento.
	ErrSearchExhausted = errors.New("grid: search exhausted")
	// ErrInvalidQuery indica margem/meia-largura negativa ou margem que não deixa candidatos.
	ErrInvalidQuery = errors.New("grid: invalid query")
)

// RandSource é a fonte de aleatoriedade da busca. *rand.Rand (math/rand/v2) satisfaz a interface.
type RandSource interface {
	// IntN devolve um inteiro uniforme em [0, n).
	IntN(n int) int
}

// Vec2 é uma posição em coordenadas de mundo.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Query descreve um pedido de FindOpenLocation.
type Query struct {
	Region RegionName
	Margin int

	excludeCenter bool
	halfWidth     int
}

// ExcludingCenter devolve uma cópia da query que rejeita o quadrado
// [mid-h, mid+h] x [mid-h, mid+h] da região.
func (q Query) ExcludingCenter(halfWidth int) Query {
	q.excludeCenter = true
	q.halfWidth = halfWidth
	return q
}

// Exclusion devolve a meia-largura pedida e se a exclusão está ativa.
func (q Query) Exclusion() (int, bool) {
	return q.halfWidth, q.excludeCenter
}

// Placement é o resultado de uma busca. Só é significativo quando o erro é nil.
type Placement struct {
	Cell     Cell       `json:"cell"`
	World    Vec2       `json:"world"`
	Region   RegionName `json:"region"`
	Attempts int        `json:"attempts"`
}

// Searcher executa a busca por amostragem com rejeição sobre um Grid.
type Searcher struct {
	grid        *Grid
	rng         RandSource
	maxAttempts int
	cellSize    float64
	origin      Vec2
	logger      hclog.Logger
}

// SearcherOption configura um Searcher.
type SearcherOption func(*Searcher)

func WithRand(r RandSource) SearcherOption {
	return func(s *Searcher) { s.rng = r }
}

func WithMaxAttempts(n int) SearcherOption {
	return func(s *Searcher) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithCellSize define a conversão célula -> mundo.
func WithCellSize(size float64, origin Vec2) SearcherOption {
	return func(s *Searcher) {
		if size > 0 {
			s.cellSize = size
		}
		s.origin = origin
	}
}

func WithLogger(l hclog.Logger) SearcherOption {
	return func(s *Searcher) { s.logger = l }
}

func NewSearcher(g *Grid, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		grid:        g,
		maxAttempts: DefaultMaxAttempts,
		cellSize:    1,
		logger:      hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1))
	}
	return s
}

// Grid devolve o grid pesquisado.
func (s *Searcher) Grid() *Grid { return s.grid }

// CellToWorld converte uma célula para coordenadas de mundo (canto inferior esquerdo do tile).
func (s *Searcher) CellToWorld(c Cell) Vec2 {
	return Vec2{
		X: s.origin.X + float64(c.X)*s.cellSize,
		Y: s.origin.Y + float64(c.Y)*s.cellSize,
	}
}

// FindOpenLocation sorteia uma célula da região cuja janela de lado 2*margin+1
// não tenha nenhuma célula ocupada em nenhuma camada da região.
func (s *Searcher) FindOpenLocation(q Query) (Placement, error) {
	region, err := s.grid.Region(q.Region)
	if err != nil {
		return Placement{}, err
	}
	if q.Margin < 0 {
		return Placement{}, fmt.Errorf("%w: negative margin %d", ErrInvalidQuery, q.Margin)
	}
	halfWidth, exclude := q.Exclusion()
	if exclude && halfWidth < 0 {
		return Placement{}, fmt.Errorf("%w: negative exclusion half-width %d", ErrInvalidQuery, halfWidth)
	}

	// Intervalo semiaberto [lo, hi) em cada eixo.
	loX, hiX := region.MinX+q.Margin, region.MaxX-q.Margin
	loY, hiY := region.MinY+q.Margin, region.MaxY-q.Margin
	if hiX <= loX || hiY <= loY {
		return Placement{}, fmt.Errorf("%w: margin %d leaves no cells in region %q", ErrInvalidQuery, q.Margin, q.Region)
	}

	layers, _ := s.grid.LayersFor(q.Region)
	var excluded Rect
	if exclude {
		excluded = region.CenterSquare(halfWidth)
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		candidate := Cell{
			X: loX + s.rng.IntN(hiX-loX),
			Y: loY + s.rng.IntN(hiY-loY),
		}

		if exclude && excluded.Contains(candidate) {
			continue
		}
		if !windowClear(layers, candidate, q.Margin) {
			continue
		}

		return Placement{
			Cell:     candidate,
			World:    s.CellToWorld(candidate),
			Region:   q.Region,
			Attempts: attempt,
		}, nil
	}

	s.logger.Debug("search exhausted", "region", q.Region, "margin", q.Margin, "attempts", s.maxAttempts)
	return Placement{Region: q.Region, Attempts: s.maxAttempts},
		fmt.Errorf("%w: region %q after %d attempts", ErrSearchExhausted, q.Region, s.maxAttempts)
}

func windowClear(layers []*Layer, center Cell, margin int) bool {
	for dx := -margin; dx <= margin; dx++ {
		for dy := -margin; dy <= margin; dy++ {
			if occupiedIn(layers, Cell{X: center.X + dx, Y: center.Y + dy}) {
				return false
			}
		}
	}
	return true
}
