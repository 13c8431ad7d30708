// Package relay espelha o estado replicado da sessão em subjects NATS, para
// espectadores e serviços que não falam WebSocket com o host.
//
// Subjects:
//
//	ringhunt.<sessão>.state           eventos RING_HOLDER_CHANGED / MATCH_WON_CHANGED
//	ringhunt.<sessão>.state.snapshot  request-reply com o SNAPSHOT atual
//
// Os frames são msgpack (ver Frame).
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/nats-io/nats.go"

	"ringhunt/internal/authority"
)

// snapshotTimeout limita a espera pela goroutine do Hub ao responder um snapshot.
const snapshotTimeout = 2 * time.Second

// StateSubject devolve o subject de eventos da sessão.
func StateSubject(sessionID string) string {
	return fmt.Sprintf("ringhunt.%s.state", sessionID)
}

// SnapshotSubject devolve o subject de request-reply do snapshot.
func SnapshotSubject(stateSubject string) string {
	return stateSubject + ".snapshot"
}

// Publisher é o lado de publicação do NATS (*nats.Conn).
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Executor roda uma função na goroutine dona do estado (*network.Hub).
type Executor interface {
	Do(ctx context.Context, fn func()) error
}

// SnapshotSource fornece o estado atual (*replication.Host).
type SnapshotSource interface {
	Snapshot() authority.Snapshot
}

// Mirror publica cada mudança confirmada do Store.
type Mirror struct {
	pub     Publisher
	subject string
	logger  hclog.Logger
}

func NewMirror(pub Publisher, subject string, logger hclog.Logger) *Mirror {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Mirror{pub: pub, subject: subject, logger: logger.Named("relay")}
}

func (m *Mirror) Subject() string { return m.subject }

// Publish é um authority.Listener. Roda dentro da entrega do Store; falhas de
// publicação são registradas e não interrompem os outros listeners.
func (m *Mirror) Publish(ev authority.Event) {
	data, err := encodeFrame(eventFrame(ev))
	if err != nil {
		m.logger.Error("failed to encode event", "seq", ev.Seq, "error", err)
		return
	}
	if err := m.pub.Publish(m.subject, data); err != nil {
		metrics.IncrCounter([]string{"relay", "publish_failed"}, 1)
		m.logger.Warn("publish failed", "subject", m.subject, "seq", ev.Seq, "error", err)
		return
	}
	metrics.IncrCounter([]string{"relay", "published"}, 1)
}

// SnapshotReply lê o estado atual pela goroutine do Hub e devolve o frame SNAPSHOT codificado.
func SnapshotReply(ctx context.Context, exec Executor, src SnapshotSource) ([]byte, error) {
	var snap authority.Snapshot
	if err := exec.Do(ctx, func() { snap = src.Snapshot() }); err != nil {
		return nil, fmt.Errorf("relay: reading snapshot: %w", err)
	}
	return encodeFrame(snapshotFrame(snap))
}

// ServeSnapshots responde pedidos de snapshot no subject do espelho.
func (m *Mirror) ServeSnapshots(conn *nats.Conn, exec Executor, src SnapshotSource) (*nats.Subscription, error) {
	return conn.Subscribe(SnapshotSubject(m.subject), func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()

		data, err := SnapshotReply(ctx, exec, src)
		if err != nil {
			m.logger.Warn("snapshot request failed", "error", err)
			data, _ = encodeFrame(Frame{Kind: FrameError, Error: err.Error()})
		}
		if err := msg.Respond(data); err != nil {
			m.logger.Warn("snapshot reply failed", "error", err)
		}
	})
}
