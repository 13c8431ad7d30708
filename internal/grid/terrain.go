package grid

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInvalidTerrain indica um arquivo de terreno que não casa com as camadas do Grid.
var ErrInvalidTerrain = errors.New("grid: invalid terrain")

// TerrainLayer descreve as células bloqueadas de uma camada, exportadas do tilemap.
type TerrainLayer struct {
	Rects []Rect `json:"rects"`
	Cells []Cell `json:"cells"`
}

// Terrain é a ocupação estática do mapa, indexada pelo nome da camada.
//
//	{"layers": {"forest": {"rects": [{"minX": 1, "maxX": 4, "minY": 1, "maxY": 50}]},
//	            "trees":  {"cells": [{"x": 10, "y": 12}]}}}
type Terrain struct {
	Layers map[string]TerrainLayer `json:"layers"`
}

// DecodeTerrain lê um Terrain em JSON. Campos desconhecidos são erro.
func DecodeTerrain(r io.Reader) (Terrain, error) {
	var t Terrain
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return Terrain{}, fmt.Errorf("%w: %w", ErrInvalidTerrain, err)
	}
	return t, nil
}

// LoadTerrainFile abre e decodifica o arquivo de terreno.
func LoadTerrainFile(path string) (Terrain, error) {
	f, err := os.Open(path)
	if err != nil {
		return Terrain{}, fmt.Errorf("open terrain: %w", err)
	}
	defer f.Close()
	return DecodeTerrain(f)
}

// ApplyTerrain marca as células do terreno nas camadas do Grid. Precisa rodar
// antes de qualquer busca. A camada props é só de tempo de execução e não pode vir do arquivo.
// Devolve quantas células ficaram marcadas.
func (g *Grid) ApplyTerrain(t Terrain) (int, error) {
	for name := range t.Layers {
		if name == LayerProps {
			return 0, fmt.Errorf("%w: layer %q is filled at runtime", ErrInvalidTerrain, name)
		}
		if g.layers[name] == nil {
			return 0, fmt.Errorf("%w: unknown layer %q", ErrInvalidTerrain, name)
		}
		for _, r := range t.Layers[name].Rects {
			if r.MinX > r.MaxX || r.MinY > r.MaxY {
				return 0, fmt.Errorf("%w: empty rect %+v in layer %q", ErrInvalidTerrain, r, name)
			}
		}
	}

	var marked int
	for name, tl := range t.Layers {
		l := g.layers[name]
		for _, r := range tl.Rects {
			l.Fill(r)
		}
		for _, c := range tl.Cells {
			l.Set(c)
		}
		marked += l.Len()
	}
	return marked, nil
}
