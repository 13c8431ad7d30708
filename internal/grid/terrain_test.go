package grid

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTerrain = `{"layers": {
	"forest": {"rects": [{"minX": 1, "maxX": 50, "minY": 1, "maxY": 45}]},
	"trees":  {"cells": [{"x": 30, "y": 48}]}
}}`

func TestApplyTerrain_BlocksSearches(t *testing.T) {
	terrain, err := DecodeTerrain(strings.NewReader(sampleTerrain))
	require.NoError(t, err)

	g := New(DefaultRegions)
	marked, err := g.ApplyTerrain(terrain)
	require.NoError(t, err)
	assert.Equal(t, 50*45+1, marked)

	occupied, err := g.Occupied(Outdoor, Cell{X: 10, Y: 10})
	require.NoError(t, err)
	assert.True(t, occupied)
	occupied, err = g.Occupied(Outdoor, Cell{X: 30, Y: 48})
	require.NoError(t, err)
	assert.True(t, occupied)

	// Só a faixa de cima sobra livre: toda busca bem sucedida cai nela.
	s := NewSearcher(g, WithRand(rand.New(rand.NewPCG(1, 2))), WithMaxAttempts(5000))
	for range 20 {
		p, err := s.FindOpenLocation(Query{Region: Outdoor})
		require.NoError(t, err)
		assert.Greater(t, p.Cell.Y, 45)
		assert.NotEqual(t, Cell{X: 30, Y: 48}, p.Cell)
	}
}

func TestApplyTerrain_Rejects(t *testing.T) {
	cases := map[string]Terrain{
		"props":      {Layers: map[string]TerrainLayer{LayerProps: {Cells: []Cell{{X: 1, Y: 1}}}}},
		"unknown":    {Layers: map[string]TerrainLayer{"lava": {}}},
		"empty rect": {Layers: map[string]TerrainLayer{LayerCave: {Rects: []Rect{{MinX: 5, MaxX: 1, MinY: 1, MaxY: 1}}}}},
	}
	for name, terrain := range cases {
		t.Run(name, func(t *testing.T) {
			g := New(DefaultRegions)
			_, err := g.ApplyTerrain(terrain)
			assert.ErrorIs(t, err, ErrInvalidTerrain)
			assert.Zero(t, g.Layer(LayerCave).Len(), "nothing applied on error")
		})
	}
}

func TestDecodeTerrain_UnknownField(t *testing.T) {
	_, err := DecodeTerrain(strings.NewReader(`{"tiles": []}`))
	assert.ErrorIs(t, err, ErrInvalidTerrain)
}

func TestLoadTerrainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terrain.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleTerrain), 0o600))

	terrain, err := LoadTerrainFile(path)
	require.NoError(t, err)
	assert.Len(t, terrain.Layers, 2)

	_, err = LoadTerrainFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
