package main

import (
	"context"
	"math/rand/v2"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringhunt/internal/authority"
	"ringhunt/internal/config"
	"ringhunt/internal/grid"
	"ringhunt/internal/network"
	"ringhunt/internal/replication"
	"ringhunt/internal/session"
	"ringhunt/internal/spawn"
)

func startHost(t *testing.T, expected int) string {
	t.Helper()
	searcher := grid.NewSearcher(grid.New(grid.DefaultRegions), grid.WithRand(rand.New(rand.NewPCG(3, 3))))
	coordinator, err := session.NewCoordinator(session.CoordinatorConfig{
		Store:     authority.NewStore(authority.Options{RejectAfterWin: true}),
		Registry:  session.NewRegistry(),
		Populator: spawn.NewPrefabSpawner(searcher, spawn.DefaultEntities, nil),
		Assigner:  spawn.NewPlayerSpawner(searcher, spawn.DefaultPlayerSpawn, nil),
		Expected:  expected,
	})
	require.NoError(t, err)

	host := replication.NewHost(coordinator, nil)
	srv := network.NewServer(host, network.ServerOptions{})
	host.Attach(srv.Hub())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestBots_PlayMatchToTheEnd(t *testing.T) {
	addr := startHost(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bots := make([]*bot, 2)
	errs := make(chan error, len(bots))
	for i, name := range []string{"frodo", "sam"} {
		conn, err := connect(ctx, config.Client{HostAddr: addr}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		bots[i] = newBot(conn, name, nil)
		go func(b *bot) { errs <- b.play(ctx) }(bots[i])
	}
	for range bots {
		require.NoError(t, <-errs)
	}

	h0, won0, seq0 := bots[0].replica.State()
	h1, won1, seq1 := bots[1].replica.State()
	assert.True(t, won0)
	assert.True(t, won1)
	assert.Equal(t, h0, h1)
	assert.Equal(t, seq0, seq1)
	assert.Contains(t, []authority.ParticipantID{bots[0].id, bots[1].id}, h0)
}

func TestConnect_RequiresAnAddress(t *testing.T) {
	_, err := connect(context.Background(), config.Client{}, nil)
	assert.Error(t, err)
}
