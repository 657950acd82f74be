package sync2

import (
	"fmt"

	"github.com/hashgraph/merkleruntime/internal/merkleerr"
	"github.com/hashgraph/merkleruntime/internal/streamio"
)

// Reconnect handshake states (spec §6): a learner requests a reconnection
// session and the teacher either accepts or rejects it before any node
// offers are exchanged.
const (
	commStateRequest int32 = 1
	commStateAck     int32 = 2
	commStateNack    int32 = 3
)

// RequestReconnect sends a reconnect request and waits for the teacher's
// ACK/NACK. It returns merkleerr.ErrReconnectRejection (non-fatal — the
// learner may retry against another peer) on NACK, and wraps anything else
// in merkleerr.ErrBadIO.
func RequestReconnect(w *streamio.Writer, r *streamio.Reader) error {
	if err := w.WriteInt32(commStateRequest); err != nil {
		return fmt.Errorf("%w: %v", merkleerr.ErrBadIO, err)
	}
	state, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("%w: %v", merkleerr.ErrBadIO, err)
	}
	switch state {
	case commStateAck:
		return nil
	case commStateNack:
		return merkleerr.ErrReconnectRejection
	default:
		return fmt.Errorf("%w: unexpected reconnect handshake state %d", merkleerr.ErrBadIO, state)
	}
}

// AcceptReconnect reads a reconnect request and replies ACK or NACK
// depending on accept. It is an error for the incoming message to be
// anything other than a request.
func AcceptReconnect(w *streamio.Writer, r *streamio.Reader, accept bool) error {
	state, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("%w: %v", merkleerr.ErrBadIO, err)
	}
	if state != commStateRequest {
		return fmt.Errorf("%w: expected reconnect request, got state %d", merkleerr.ErrBadIO, state)
	}
	reply := commStateNack
	if accept {
		reply = commStateAck
	}
	if err := w.WriteInt32(reply); err != nil {
		return fmt.Errorf("%w: %v", merkleerr.ErrBadIO, err)
	}
	if !accept {
		return merkleerr.ErrReconnectRejection
	}
	return nil
}
