// Espectador: acompanha o estado de uma sessão pelo espelho NATS, sem conexão
// WebSocket com o host.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/nats-io/nats.go"

	"ringhunt/internal/authority"
	"ringhunt/internal/config"
	"ringhunt/internal/relay"
	"ringhunt/internal/replication"
	"ringhunt/internal/services/cluster"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Log.Logger("ringhunt-spectator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("spectator stopped", "error", err)
		os.Exit(1)
	}
}

// stateSubject vem de RINGHUNT_SESSION_ID ou dos metadados do host no Consul.
func stateSubject(cfg config.Client, logger hclog.Logger) (string, error) {
	if cfg.SessionID != "" {
		return relay.StateSubject(cfg.SessionID), nil
	}
	if cfg.ConsulAddr == "" {
		return "", errors.New("set RINGHUNT_SESSION_ID or CONSUL_HTTP_ADDR")
	}
	inst, err := cluster.Discover(cfg.ServiceName, cfg.ConsulAddr, cluster.DiscoveryOptions{Mode: cluster.ModeAnyHealthy}, logger)
	if err != nil {
		return "", err
	}
	subject := inst.Meta["stateSubject"]
	if subject == "" {
		return "", fmt.Errorf("host %s does not mirror its state", inst.ID)
	}
	return subject, nil
}

func run(ctx context.Context, cfg config.Client, logger hclog.Logger) error {
	subject, err := stateSubject(cfg, logger)
	if err != nil {
		return err
	}

	nc, err := nats.Connect(cfg.NatsURL, nats.Name("ringhunt-spectator"))
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer nc.Close()

	replica := replication.NewReplica()
	replica.OnRingHolderChanged(func(previous, current authority.ParticipantID) {
		if current == authority.NoHolder {
			logger.Info("the ring was dropped", "previous", previous)
			return
		}
		logger.Info("a player has picked up the ring", "participant", current)
	})
	replica.OnMatchWonChanged(func(_, current bool) {
		if current {
			holder, _, _ := replica.State()
			logger.Info("match won", "winner", holder)
		}
	})

	logger.Info("following", "subject", subject)
	return relay.Follow(ctx, nc, subject, replica, relay.FollowOptions{
		RequestTimeout: cfg.Timeout,
		Logger:         logger,
	})
}
