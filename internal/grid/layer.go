package grid

import (
	"fmt"
	"sort"
)

// Layer é um conjunto de células consideradas ocupadas.
type Layer struct {
	name  string
	cells map[Cell]struct{}
}

func NewLayer(name string) *Layer {
	return &Layer{
		name:  name,
		cells: make(map[Cell]struct{}),
	}
}

func (l *Layer) Name() string { return l.name }

func (l *Layer) Set(c Cell) {
	l.cells[c] = struct{}{}
}

func (l *Layer) Clear(c Cell) {
	delete(l.cells, c)
}

func (l *Layer) Occupied(c Cell) bool {
	_, ok := l.cells[c]
	return ok
}

// Fill marca todas as células do retângulo.
func (l *Layer) Fill(r Rect) {
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			l.cells[Cell{X: x, Y: y}] = struct{}{}
		}
	}
}

func (l *Layer) Len() int { return len(l.cells) }

// Grid mantém as camadas de ocupação de cada região.
// A população das camadas precisa terminar antes de qualquer busca: o Grid não tem lock.
type Grid struct {
	regions map[RegionName]Region
	layers  map[string]*Layer
}

// New cria um Grid para a tabela de regiões informada, com uma camada vazia
// para cada nome de camada referenciado pelas regiões.
func New(regions map[RegionName]Region) *Grid {
	g := &Grid{
		regions: make(map[RegionName]Region, len(regions)),
		layers:  make(map[string]*Layer),
	}
	for name, r := range regions {
		g.regions[name] = r
		for _, ln := range r.Layers {
			if _, ok := g.layers[ln]; !ok {
				g.layers[ln] = NewLayer(ln)
			}
		}
	}
	return g
}

// Region devolve a região pelo nome, ou ErrInvalidRegion.
func (g *Grid) Region(name RegionName) (Region, error) {
	r, ok := g.regions[name]
	if !ok {
		return Region{}, fmt.Errorf("%w: %q", ErrInvalidRegion, name)
	}
	return r, nil
}

// Layer devolve a camada pelo nome (nil se não existir).
func (g *Grid) Layer(name string) *Layer {
	return g.layers[name]
}

// LayersFor devolve as camadas associadas à região.
func (g *Grid) LayersFor(name RegionName) ([]*Layer, error) {
	r, err := g.Region(name)
	if err != nil {
		return nil, err
	}
	out := make([]*Layer, 0, len(r.Layers))
	for _, ln := range r.Layers {
		out = append(out, g.layers[ln])
	}
	return out, nil
}

// RegionNames devolve os nomes das regiões em ordem estável.
func (g *Grid) RegionNames() []RegionName {
	names := make([]RegionName, 0, len(g.regions))
	for name := range g.regions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Occupied informa se a célula está ocupada em qualquer camada da região.
func (g *Grid) Occupied(name RegionName, c Cell) (bool, error) {
	layers, err := g.LayersFor(name)
	if err != nil {
		return false, err
	}
	return occupiedIn(layers, c), nil
}

func occupiedIn(layers []*Layer, c Cell) bool {
	for _, l := range layers {
		if l.Occupied(c) {
			return true
		}
	}
	return false
}
