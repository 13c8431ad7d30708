package relay

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"ringhunt/internal/authority"
	"ringhunt/internal/replication"
)

// Tipos de frame. Os de evento usam os mesmos nomes do protocolo WebSocket.
const (
	FrameSnapshot          = replication.EvtSnapshot
	FrameRingHolderChanged = replication.EvtRingHolderChanged
	FrameMatchWonChanged   = replication.EvtMatchWonChanged
	FrameError             = replication.EvtError
)

// Frame é a unidade publicada no NATS, codificada em msgpack.
// O controle (WebSocket) continua em JSON; aqui só trafega estado.
type Frame struct {
	Kind           string                  `msgpack:"k"`
	Seq            uint64                  `msgpack:"s"`
	PreviousHolder authority.ParticipantID `msgpack:"ph"`
	RingHolder     authority.ParticipantID `msgpack:"h"`
	PreviousWon    bool                    `msgpack:"pw"`
	MatchWon       bool                    `msgpack:"w"`
	Error          string                  `msgpack:"e,omitempty"`
}

func eventFrame(ev authority.Event) Frame {
	f := Frame{Kind: string(ev.Kind), Seq: ev.Seq}
	switch ev.Kind {
	case authority.MatchWonChanged:
		f.PreviousWon, f.MatchWon = ev.PreviousWon, ev.Won
	default:
		f.PreviousHolder, f.RingHolder = ev.PreviousHolder, ev.Holder
	}
	return f
}

func snapshotFrame(s authority.Snapshot) Frame {
	return Frame{Kind: FrameSnapshot, Seq: s.Seq, RingHolder: s.RingHolder, MatchWon: s.MatchWon}
}

func encodeFrame(f Frame) ([]byte, error) {
	return msgpack.Marshal(&f)
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("relay: decode frame: %w", err)
	}
	return f, nil
}

// applyFrame leva o frame para a réplica. Duplicados não são erro.
func applyFrame(replica *replication.Replica, f Frame) error {
	var err error
	switch f.Kind {
	case FrameSnapshot:
		replica.ApplySnapshot(replication.SnapshotPayload{RingHolder: f.RingHolder, MatchWon: f.MatchWon, Seq: f.Seq})
	case FrameRingHolderChanged:
		_, err = replica.ApplyRingHolder(replication.RingHolderChangedPayload{Previous: f.PreviousHolder, Current: f.RingHolder, Seq: f.Seq})
	case FrameMatchWonChanged:
		_, err = replica.ApplyMatchWon(replication.MatchWonChangedPayload{Previous: f.PreviousWon, Current: f.MatchWon, Seq: f.Seq})
	case FrameError:
		return fmt.Errorf("relay: remote error: %s", f.Error)
	default:
		return fmt.Errorf("relay: unknown frame %q", f.Kind)
	}
	if errors.Is(err, replication.ErrDuplicate) {
		return nil
	}
	return err
}
