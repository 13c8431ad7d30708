package grid

import "fmt"

// RegionName identifica uma área estática do mapa.
type RegionName string

const (
	Outdoor RegionName = "outdoor"
	Cave    RegionName = "cave"
)

// Nomes das camadas de ocupação.
const (
	LayerForest = "forest"
	LayerTrees  = "trees"
	LayerCave   = "cave"
	// LayerProps guarda as células ocupadas por entidades colocadas em tempo de execução
	// (anel, jogadores). A busca de spawn precisa enxergá-las como ocupadas.
	LayerProps = "props"
)

// Cell é uma coordenada inteira no grid de tiles.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Region é um retângulo nomeado do grid com suas próprias camadas de ocupação.
// Os limites são inclusivos. O ponto médio é configuração, não é derivado dos limites.
type Region struct {
	Name   RegionName
	MinX   int
	MaxX   int
	MinY   int
	MaxY   int
	MidX   int
	MidY   int
	Layers []string
}

// Contains informa se a célula está dentro dos limites da região.
func (r Region) Contains(c Cell) bool {
	return c.X >= r.MinX && c.X <= r.MaxX && c.Y >= r.MinY && c.Y <= r.MaxY
}

// Rect é um retângulo inclusivo de células.
type Rect struct {
	MinX int `json:"minX"`
	MaxX int `json:"maxX"`
	MinY int `json:"minY"`
	MaxY int `json:"maxY"`
}

func (r Rect) Contains(c Cell) bool {
	return c.X >= r.MinX && c.X <= r.MaxX && c.Y >= r.MinY && c.Y <= r.MaxY
}

// CenterSquare calcula, sob demanda, o quadrado de exclusão centrado no ponto médio.
func (r Region) CenterSquare(halfWidth int) Rect {
	return Rect{
		MinX: r.MidX - halfWidth,
		MaxX: r.MidX + halfWidth,
		MinY: r.MidY - halfWidth,
		MaxY: r.MidY + halfWidth,
	}
}

// DefaultRegions é a tabela estática de regiões do mapa.
var DefaultRegions = map[RegionName]Region{
	Outdoor: {
		Name: Outdoor,
		MinX: 1, MaxX: 50,
		MinY: 1, MaxY: 50,
		MidX: 22, MidY: 22,
		Layers: []string{LayerForest, LayerTrees, LayerProps},
	},
	Cave: {
		Name: Cave,
		MinX: 95, MaxX: 140,
		MinY: 1, MaxY: 50,
		MidX: 117, MidY: 22,
		Layers: []string{LayerCave, LayerProps},
	},
}
