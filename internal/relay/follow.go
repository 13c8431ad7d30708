package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/nats-io/nats.go"

	"ringhunt/internal/replication"
)

// Subscriber é o que Follow usa de *nats.Conn.
type Subscriber interface {
	ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error)
	Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error)
}

// FollowOptions ajusta o seguidor.
type FollowOptions struct {
	RequestTimeout time.Duration
	Buffer         int
	Logger         hclog.Logger
}

// Follow mantém a réplica em dia com o espelho até o contexto terminar.
// Inscreve-se primeiro e só depois pede o snapshot: eventos que chegam nesse
// intervalo ficam no buffer e os já contidos no snapshot são descartados pelo Seq.
func Follow(ctx context.Context, conn Subscriber, subject string, replica *replication.Replica, opts FollowOptions) error {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("follow")

	ch := make(chan *nats.Msg, opts.Buffer)
	sub, err := conn.ChanSubscribe(subject, ch)
	if err != nil {
		return fmt.Errorf("relay: subscribing to %s: %w", subject, err)
	}
	defer func() {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}()

	reply, err := conn.Request(SnapshotSubject(subject), nil, opts.RequestTimeout)
	if err != nil {
		return fmt.Errorf("relay: requesting snapshot: %w", err)
	}
	if err := apply(replica, reply.Data); err != nil {
		return fmt.Errorf("relay: applying snapshot: %w", err)
	}
	if !replica.Synced() {
		return errors.New("relay: snapshot reply did not carry a snapshot")
	}
	logger.Debug("synced", "subject", subject)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			if err := apply(replica, msg.Data); err != nil {
				if errors.Is(err, replication.ErrGap) {
					logger.Warn("missed events", "error", err)
					continue
				}
				logger.Error("bad message", "error", err)
			}
		}
	}
}

func apply(replica *replication.Replica, data []byte) error {
	f, err := decodeFrame(data)
	if err != nil {
		return err
	}
	return applyFrame(replica, f)
}
