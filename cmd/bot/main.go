// Bot que entra na sessão, marca pronto, pega o anel assim que nasce e corre
// para a cidade. Útil para testar o host de ponta a ponta.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"ringhunt/internal/authority"
	"ringhunt/internal/config"
	"ringhunt/internal/network"
	"ringhunt/internal/replication"
	"ringhunt/internal/services/cluster"
)

const dialAttempts = 3

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Log.Logger("ringhunt-bot").With("name", cfg.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	conn, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("could not reach host", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	b := newBot(conn, cfg.Name, logger)
	if err := b.play(ctx); err != nil {
		logger.Error("bot failed", "error", err)
		os.Exit(1)
	}
	holder, won, seq := b.replica.State()
	logger.Info("match over", "ringHolder", holder, "matchWon", won, "seq", seq, "me", b.id)
}

// connect usa RINGHUNT_HOST_ADDR quando presente; senão descobre o host no Consul,
// descartando a instância do cache a cada falha de conexão.
func connect(ctx context.Context, cfg config.Client, logger hclog.Logger) (*websocket.Conn, error) {
	if cfg.HostAddr != "" {
		return dial(ctx, cfg.HostAddr)
	}
	if cfg.ConsulAddr == "" {
		return nil, errors.New("set RINGHUNT_HOST_ADDR or CONSUL_HTTP_ADDR")
	}

	client, err := cluster.NewConsulClient(cfg.ConsulAddr, logger)
	if err != nil {
		return nil, err
	}
	cache := cluster.NewServiceCacheActor(30*time.Second, client)
	defer cache.Close()

	var lastErr error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		inst, err := cache.Discover(ctx, cfg.ServiceName)
		if err != nil {
			return nil, err
		}
		conn, err := dial(ctx, inst.Address)
		if err == nil {
			logger.Info("connected", "host", inst.Address, "session", inst.Meta["sessionId"])
			return conn, nil
		}
		logger.Warn("dial failed", "host", inst.Address, "attempt", attempt, "error", err)
		cache.Invalidate(cfg.ServiceName)
		lastErr = err
	}
	return nil, lastErr
}

func dial(ctx context.Context, addr string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

type bot struct {
	conn    *websocket.Conn
	name    string
	id      authority.ParticipantID
	joined  bool
	replica *replication.Replica
	logger  hclog.Logger
}

func newBot(conn *websocket.Conn, name string, logger hclog.Logger) *bot {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	b := &bot{
		conn:    conn,
		name:    name,
		id:      authority.NoHolder,
		replica: replication.NewReplica(),
		logger:  logger,
	}
	b.replica.OnRingHolderChanged(func(previous, current authority.ParticipantID) {
		b.logger.Info("ring changed hands", "previous", previous, "current", current)
	})
	return b
}

func (b *bot) send(msgType string, payload any) error {
	msg := network.Message{Type: msgType}
	if payload != nil {
		msg = network.MustMessage(msgType, payload)
	}
	return b.conn.WriteJSON(msg)
}

// play roda até a partida ser vencida, o contexto acabar ou a conexão cair.
// Todas as escritas acontecem nesta goroutine.
func (b *bot) play(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = b.conn.SetReadDeadline(time.Now()) })
	defer stop()

	if err := b.send(replication.CmdJoin, replication.JoinPayload{Name: b.name}); err != nil {
		return err
	}

	for {
		var msg network.Message
		if err := b.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading from host: %w", err)
		}

		if _, err := b.replica.Handle(msg); err != nil {
			b.logger.Warn("replica out of sync", "type", msg.Type, "error", err)
		}

		switch msg.Type {
		case replication.EvtSnapshot:
			if _, won, _ := b.replica.State(); won {
				b.logger.Info("match already won")
				return nil
			}

		case replication.EvtWelcome:
			var w replication.WelcomePayload
			if err := msg.Decode(&w); err != nil {
				return err
			}
			b.id, b.joined = w.ParticipantID, true
			b.logger.Info("joined", "participant", b.id)
			if err := b.send(replication.CmdReady, nil); err != nil {
				return err
			}

		case replication.EvtSpawnAssigned:
			var s replication.SpawnAssignedPayload
			if err := msg.Decode(&s); err != nil {
				return err
			}
			if !b.joined || s.ParticipantID != b.id {
				continue
			}
			b.logger.Info("spawned", "cell", s.Cell, "world", s.World)
			id := b.id
			if err := b.send(replication.CmdClaimRing, replication.ClaimRingPayload{ParticipantID: &id}); err != nil {
				return err
			}

		case replication.EvtRingHolderChanged:
			if holder, _, _ := b.replica.State(); b.joined && holder == b.id {
				if err := b.send(replication.CmdReachTown, nil); err != nil {
					return err
				}
			}

		case replication.EvtMatchWonChanged:
			if _, won, _ := b.replica.State(); won {
				return nil
			}

		case replication.EvtError:
			var e network.ErrorPayload
			_ = msg.Decode(&e)
			b.logger.Warn("host error", "error", e.Error)
		}
	}
}
