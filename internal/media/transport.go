package media

import (
	"context"
	"errors"
)

var ErrUnknownSession = errors.New("media: unknown session")

// ConnectRequest opens one direct (peer-to-peer) media session.
type ConnectRequest struct {
	SessionID string
	From      string
	To        string

	// OnEnded fires once when the session ends without a local Disconnect:
	// the peer hung up or the signaling connection dropped. Optional.
	OnEnded func(sessionID string)
}

// AudioHandler receives inbound audio frames. It runs on the session's reader goroutine.
type AudioHandler func(frame []byte)

// Transport is the signaling side of a direct media session.
// Disconnect is idempotent: unknown or already closed sessions return nil.
// A local Disconnect never fires ConnectRequest.OnEnded.
type Transport interface {
	Connect(ctx context.Context, req ConnectRequest) error
	Disconnect(ctx context.Context, sessionID string) error

	SetMuted(ctx context.Context, sessionID string, muted bool) error
	StartListening(ctx context.Context, sessionID string, onAudio AudioHandler) error
	StopListening(ctx context.Context, sessionID string) error
}
