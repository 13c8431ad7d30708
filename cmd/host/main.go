// Processo autoritativo da partida: guarda RingHolder/MatchWon, aceita clientes
// WebSocket em /ws e espelha o estado no NATS.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/armon/go-metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"

	"ringhunt/internal/authority"
	"ringhunt/internal/config"
	"ringhunt/internal/grid"
	"ringhunt/internal/network"
	"ringhunt/internal/relay"
	"ringhunt/internal/replication"
	"ringhunt/internal/services/cluster"
	"ringhunt/internal/session"
	"ringhunt/internal/spawn"
)

func main() {
	cfg, err := config.LoadHost()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Log.Logger("ringhunt-host")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("host stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Host, logger hclog.Logger) (err error) {
	sessionID := uuid.NewString()
	logger = logger.With("session", sessionID)

	// 1. MÉTRICAS
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	mcfg := metrics.DefaultConfig("ringhunt")
	mcfg.EnableHostname = false
	if _, err := metrics.NewGlobal(mcfg, inm); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// 2. MUNDO E AUTORIDADE
	searcherOpts := []grid.SearcherOption{
		grid.WithCellSize(cfg.CellSize, grid.Vec2{}),
		grid.WithLogger(logger),
	}
	if cfg.Seed != 0 {
		searcherOpts = append(searcherOpts, grid.WithRand(rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))))
	}
	world := grid.New(grid.DefaultRegions)
	if cfg.TerrainFile != "" {
		terrain, err := grid.LoadTerrainFile(cfg.TerrainFile)
		if err != nil {
			return err
		}
		marked, err := world.ApplyTerrain(terrain)
		if err != nil {
			return err
		}
		logger.Info("terrain loaded", "file", cfg.TerrainFile, "cells", marked)
	} else {
		logger.Warn("no terrain file, only runtime entities block spawns")
	}
	searcher := grid.NewSearcher(world, searcherOpts...)

	registry := session.NewRegistry()
	var policy authority.Policy = authority.AcceptAll{}
	if cfg.KnownParticipantsOnly {
		policy = authority.KnownParticipants{Roster: registry}
	}
	store := authority.NewStore(authority.Options{
		Policy:         policy,
		RejectAfterWin: cfg.RejectAfterWin,
		Logger:         logger,
	})

	coordinator, err := session.NewCoordinator(session.CoordinatorConfig{
		Store:     store,
		Registry:  registry,
		Populator: spawn.NewPrefabSpawner(searcher, spawn.DefaultEntities, logger),
		Assigner:  spawn.NewPlayerSpawner(searcher, spawn.DefaultPlayerSpawn, logger),
		Expected:  cfg.ExpectedPlayers,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	// 3. REDE
	host := replication.NewHost(coordinator, logger)
	server := network.NewServer(host, network.ServerOptions{
		SendBuffer:   cfg.SendBuffer,
		CommandRate:  cfg.CommandRate,
		CommandBurst: cfg.CommandBurst,
		Logger:       logger,
	})
	// As inscrições vivem até o fim do processo.
	host.Attach(server.Hub())

	health := cluster.NewHealthAggregator()
	health.AddCheck("hub", func() error {
		if !server.Hub().Running() {
			return errors.New("hub not running")
		}
		return nil
	})

	// 4. ESPELHO NATS (opcional)
	stateSubject := relay.StateSubject(sessionID)
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL, nats.Name(cfg.ServiceName), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Drain()

		mirror := relay.NewMirror(nc, stateSubject, logger)
		store.Subscribe(mirror.Publish)
		if _, err := mirror.ServeSnapshots(nc, server.Hub(), host); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		health.AddCheck("nats", func() error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		})
		logger.Info("mirroring state", "subject", stateSubject)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", server)
	mux.HandleFunc("/health", health.Handler())
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		data, err := inm.DisplayMetrics(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(data)
	})

	// 5. CONSUL (opcional)
	if cfg.ConsulAddr != "" {
		client, err := cluster.NewConsulClient(cfg.ConsulAddr, logger)
		if err != nil {
			return err
		}
		deregister, err := cluster.Register(client, cluster.Registration{
			ServiceName:   cfg.ServiceName,
			ServicePort:   cfg.ServicePort,
			AdvertiseAddr: cfg.AdvertiseAddr,
			Meta:          map[string]string{"sessionId": sessionID, "stateSubject": stateSubject},
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if derr := deregister(); derr != nil {
				err = multierror.Append(err, derr).ErrorOrNil()
			}
		}()
	}

	// 6. SERVIDOR (bloqueia até o sinal de parada)
	logger.Info("session ready", "expected", cfg.ExpectedPlayers, "rejectAfterWin", cfg.RejectAfterWin)
	return server.Listen(ctx, fmt.Sprintf("0.0.0.0:%d", cfg.ServicePort), mux)
}
