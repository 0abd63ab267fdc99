package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"phone-gateway/pkg/logger"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Control frame types exchanged with the signaling server.
const (
	frameStartSession   = "start-session"
	frameSessionStarted = "session-started"
	frameEndSession     = "end-session"
	frameSessionEnded   = "session-ended"
	frameMute           = "mute"
	frameListenStart    = "listen-start"
	frameListenStop     = "listen-stop"
	frameError          = "error"
)

type controlFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Muted     *bool  `json:"muted,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WSTransport keeps one websocket signaling connection per live session.
// Audio arrives as binary frames; control messages are JSON text frames.
type WSTransport struct {
	url              string
	handshakeTimeout time.Duration
	log              *slog.Logger

	mu       sync.Mutex
	sessions map[string]*wsSession
}

type wsSession struct {
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	onEnded func(sessionID string)

	mu      sync.Mutex
	onAudio AudioHandler
}

func NewWSTransport(url string, handshakeTimeout time.Duration, log *slog.Logger) *WSTransport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &WSTransport{
		url:              url,
		handshakeTimeout: handshakeTimeout,
		log:              logger.Component(log, "media"),
		sessions:         map[string]*wsSession{},
	}
}

// Connect returns once the signaling server acknowledges the session.
func (t *WSTransport) Connect(ctx context.Context, req ConnectRequest) error {
	if req.SessionID == "" {
		return errors.New("media: session id is required")
	}
	hctx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(hctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("media: dial signaling: %w", err)
	}

	start := controlFrame{Type: frameStartSession, SessionID: req.SessionID, From: req.From, To: req.To}
	if err := wsjson.Write(hctx, conn, start); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return fmt.Errorf("media: send start-session: %w", err)
	}

	var ack controlFrame
	if err := wsjson.Read(hctx, conn, &ack); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return fmt.Errorf("media: await ack: %w", err)
	}
	switch ack.Type {
	case frameSessionStarted:
	case frameError:
		conn.Close(websocket.StatusNormalClosure, "rejected")
		return fmt.Errorf("media: signaling rejected session: %s", ack.Error)
	default:
		conn.Close(websocket.StatusProtocolError, "unexpected frame")
		return fmt.Errorf("media: unexpected handshake frame %q", ack.Type)
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	s := &wsSession{conn: conn, cancel: readCancel, done: make(chan struct{}), onEnded: req.OnEnded}

	t.mu.Lock()
	if _, ok := t.sessions[req.SessionID]; ok {
		t.mu.Unlock()
		readCancel()
		conn.Close(websocket.StatusPolicyViolation, "duplicate session")
		return fmt.Errorf("media: session %s already connected", req.SessionID)
	}
	t.sessions[req.SessionID] = s
	t.mu.Unlock()

	go t.readLoop(readCtx, req.SessionID, s)
	t.log.Debug("media session connected", "session_id", req.SessionID)
	return nil
}

func (t *WSTransport) readLoop(ctx context.Context, id string, s *wsSession) {
	defer close(s.done)
	defer func() {
		// Disconnect removes the session before stopping the loop, so only
		// remote endings are still registered here.
		if t.forget(id, s) && s.onEnded != nil {
			s.onEnded(id)
		}
	}()

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				t.log.Warn("media session read failed", "session_id", id, "err", err)
			}
			return
		}
		switch typ {
		case websocket.MessageBinary:
			s.mu.Lock()
			h := s.onAudio
			s.mu.Unlock()
			if h != nil {
				h(data)
			}
		case websocket.MessageText:
			var f controlFrame
			if err := json.Unmarshal(data, &f); err != nil {
				t.log.Warn("media control frame decode failed", "session_id", id, "err", err)
				continue
			}
			if f.Type == frameSessionEnded {
				t.log.Debug("media session ended by peer", "session_id", id)
				s.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

func (t *WSTransport) forget(id string, s *wsSession) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.sessions[id]; ok && cur == s {
		delete(t.sessions, id)
		return true
	}
	return false
}

func (t *WSTransport) lookup(id string) (*wsSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *WSTransport) Disconnect(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	// Best effort: the peer may already be gone.
	_ = wsjson.Write(ctx, s.conn, controlFrame{Type: frameEndSession, SessionID: sessionID})
	if err := s.conn.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
		t.log.Debug("media close returned error", "session_id", sessionID, "err", err)
	}
	s.cancel()
	<-s.done
	return nil
}

func (t *WSTransport) SetMuted(ctx context.Context, sessionID string, muted bool) error {
	s, ok := t.lookup(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	return wsjson.Write(ctx, s.conn, controlFrame{Type: frameMute, SessionID: sessionID, Muted: &muted})
}

func (t *WSTransport) StartListening(ctx context.Context, sessionID string, onAudio AudioHandler) error {
	s, ok := t.lookup(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	s.mu.Lock()
	s.onAudio = onAudio
	s.mu.Unlock()
	return wsjson.Write(ctx, s.conn, controlFrame{Type: frameListenStart, SessionID: sessionID})
}

func (t *WSTransport) StopListening(ctx context.Context, sessionID string) error {
	s, ok := t.lookup(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	s.mu.Lock()
	s.onAudio = nil
	s.mu.Unlock()
	return wsjson.Write(ctx, s.conn, controlFrame{Type: frameListenStop, SessionID: sessionID})
}

// Close disconnects every live session.
func (t *WSTransport) Close(ctx context.Context) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		_ = t.Disconnect(ctx, id)
	}
}
