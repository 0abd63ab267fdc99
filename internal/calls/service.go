package calls

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"phone-gateway/internal/apperr"
	"phone-gateway/internal/auth"
	"phone-gateway/internal/media"
	"phone-gateway/internal/numbers"
	"phone-gateway/internal/telephony"
	"phone-gateway/internal/tracing"
	"phone-gateway/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSessionTTL bounds how long a leaked direct session stays registered.
const DefaultSessionTTL = 4 * time.Hour

// Options are fixed at construction; nothing here is read from global state.
type Options struct {
	// DefaultTransport applies when a request leaves Transport empty. Zero means TransportDirect.
	DefaultTransport Transport

	// MaxSessions caps live direct sessions per principal. Zero disables the cap.
	MaxSessions int

	SessionTTL time.Duration
}

// NumberOwners resolves the owner of an E.164 number.
type NumberOwners interface {
	Owner(ctx context.Context, phoneNumber string) (numbers.PhoneNumber, error)
}

// Manager originates and ends voice sessions and reads call logs.
type Manager struct {
	repo     Repository
	registry Registry
	provider telephony.TelephonyProvider
	media    media.Transport
	owners   NumberOwners
	opts     Options
	log      *slog.Logger
	now      func() time.Time
	newID    func() string

	// connecting holds sessions whose handshake is in flight; true once the peer
	// ended them before Connect returned. ending holds sessions being torn down.
	mu         sync.Mutex
	connecting map[SessionID]bool
	ending     map[SessionID]struct{}
}

type Deps struct {
	Repo     Repository
	Registry Registry
	Provider telephony.TelephonyProvider
	Media    media.Transport

	// Owners is optional. When set, Initiate requires the caller to own From.
	Owners NumberOwners

	Log *slog.Logger
}

func NewManager(d Deps, opts Options) *Manager {
	if opts.DefaultTransport == "" {
		opts.DefaultTransport = TransportDirect
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if d.Registry == nil {
		d.Registry = NewMemoryRegistry()
	}
	return &Manager{
		repo:     d.Repo,
		registry: d.Registry,
		provider: d.Provider,
		media:    d.Media,
		owners:   d.Owners,
		opts:     opts,
		log:      logger.Component(d.Log, "calls"),
		now:      time.Now,
		newID:    uuid.NewString,

		connecting: map[SessionID]bool{},
		ending:     map[SessionID]struct{}{},
	}
}

func (m *Manager) DefaultTransport() Transport { return m.opts.DefaultTransport }

// Initiate places a call over the requested transport.
func (m *Manager) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	const op = "calls.initiate"
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return InitiateResult{}, apperr.AuthRequired(op)
	}
	req.From = strings.TrimSpace(req.From)
	req.To = strings.TrimSpace(req.To)
	if req.From == "" || req.To == "" {
		return InitiateResult{}, apperr.InvalidInput(op, "from and to are required")
	}
	if req.Transport == "" {
		req.Transport = m.opts.DefaultTransport
	}
	if !req.Transport.Valid() {
		return InitiateResult{}, apperr.InvalidInput(op, "unknown transport "+string(req.Transport))
	}
	if err := m.checkOwner(ctx, op, p.UserID, req.From); err != nil {
		return InitiateResult{}, err
	}

	ctx, span := tracing.StartSpan(ctx, op,
		attribute.String("call.transport", string(req.Transport)),
		attribute.Bool("call.record", req.Recording()),
	)
	defer span.End()

	var (
		res InitiateResult
		err error
	)
	if req.Transport == TransportCarrier {
		res, err = m.originate(ctx, req)
	} else {
		res, err = m.connect(ctx, p.UserID, req)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return InitiateResult{}, err
	}
	return res, nil
}

func (m *Manager) checkOwner(ctx context.Context, op, userID, from string) error {
	if m.owners == nil {
		return nil
	}
	n, err := m.owners.Owner(ctx, from)
	if apperr.Is(err, apperr.CodeNotFound) || (err == nil && n.AssignedTo != userID) {
		return apperr.InvalidInput(op, "from number is not owned by caller")
	}
	return err
}

func (m *Manager) originate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	call, err := m.provider.OriginateCall(ctx, telephony.OriginateRequest{
		From:       req.From,
		To:         req.To,
		RecordCall: req.Recording(),
	})
	if err != nil {
		return InitiateResult{}, asProviderError("calls.initiate", err)
	}
	m.log.Info("carrier call originated", "call_sid", call.CallSID, "to", req.To)
	return InitiateResult{Transport: TransportCarrier, Call: &call}, nil
}

func (m *Manager) connect(ctx context.Context, ownerID string, req InitiateRequest) (InitiateResult, error) {
	const op = "calls.initiate"
	if m.media == nil {
		return InitiateResult{}, apperr.Transport(op, errors.New("direct media transport not configured"))
	}
	if m.opts.MaxSessions > 0 {
		ok, err := m.registry.Acquire(ctx, ownerID, m.opts.MaxSessions)
		if err != nil {
			return InitiateResult{}, apperr.Store(op, err)
		}
		if !ok {
			return InitiateResult{}, apperr.New(apperr.CodeNotAvailable, op, "direct session limit reached")
		}
	}

	s := Session{
		ID:        SessionID(m.newID()),
		OwnerID:   ownerID,
		From:      req.From,
		To:        req.To,
		State:     SessionRequested,
		StartedAt: m.now().UTC(),
	}
	m.transition(&s, SessionConnecting)
	if err := m.registry.Put(ctx, s); err != nil {
		m.releaseSlot(ctx, ownerID)
		return InitiateResult{}, apperr.Store(op, err)
	}

	m.mu.Lock()
	m.connecting[s.ID] = false
	m.mu.Unlock()

	err := m.media.Connect(ctx, media.ConnectRequest{
		SessionID: string(s.ID),
		From:      s.From,
		To:        s.To,
		OnEnded:   m.peerEnded,
	})
	if err == nil {
		m.transition(&s, SessionActive)
		if perr := m.registry.Put(ctx, s); perr != nil {
			m.log.Warn("update session state", "session_id", s.ID, "err", perr)
		}
	}

	// A hangup reported while the session was still registering is handled here.
	m.mu.Lock()
	endedEarly := m.connecting[s.ID]
	delete(m.connecting, s.ID)
	m.mu.Unlock()

	if err != nil {
		m.transition(&s, SessionFailed)
		m.log.Warn("direct session failed", "session_id", s.ID, "err", err)
		m.drop(ctx, s)
		return InitiateResult{}, apperr.Transport(op, err)
	}
	if endedEarly {
		m.transition(&s, SessionEnded)
		m.drop(ctx, s)
		return InitiateResult{}, apperr.Transport(op, errors.New("session ended by peer during setup"))
	}

	m.log.Info("direct session active", "session_id", s.ID, "to", s.To)
	return InitiateResult{Transport: TransportDirect, SessionID: s.ID}, nil
}

func (m *Manager) transition(s *Session, to SessionState) {
	m.log.Debug("session state", "session_id", s.ID, "from", s.State, "to", to)
	s.State = to
}

// drop removes a session that is no longer live and frees its slot.
func (m *Manager) drop(ctx context.Context, s Session) {
	if err := m.registry.Delete(context.WithoutCancel(ctx), s); err != nil {
		m.log.Warn("drop session", "session_id", s.ID, "err", err)
	}
	m.releaseSlot(ctx, s.OwnerID)
}

// claim marks id as being torn down. Only the first caller gets true.
func (m *Manager) claim(id SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ending[id]; ok {
		return false
	}
	m.ending[id] = struct{}{}
	return true
}

func (m *Manager) unclaim(id SessionID) {
	m.mu.Lock()
	delete(m.ending, id)
	m.mu.Unlock()
}

// peerEnded handles a session the remote side ended.
func (m *Manager) peerEnded(id string) {
	sid := SessionID(id)
	m.mu.Lock()
	if _, ok := m.connecting[sid]; ok {
		m.connecting[sid] = true
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if !m.claim(sid) {
		return
	}
	defer m.unclaim(sid)

	ctx := context.Background()
	s, err := m.registry.Get(ctx, sid)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			m.log.Warn("peer ended unknown session", "session_id", sid, "err", err)
		}
		return
	}
	m.transition(&s, SessionEnded)
	m.drop(ctx, s)
	m.log.Info("direct session ended by peer", "session_id", sid)
}

func (m *Manager) releaseSlot(ctx context.Context, ownerID string) {
	if m.opts.MaxSessions <= 0 {
		return
	}
	if err := m.registry.Release(context.WithoutCancel(ctx), ownerID); err != nil {
		m.log.Warn("release session slot", "user_id", ownerID, "err", err)
	}
}

// EndSession tears down a direct session. Unknown or already ended sessions return nil.
func (m *Manager) EndSession(ctx context.Context, id SessionID) error {
	const op = "calls.end_session"
	p, _ := auth.PrincipalFrom(ctx)

	s, err := m.registry.Get(ctx, id)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return nil
	case err != nil:
		return apperr.Store(op, err)
	case s.OwnerID != p.UserID:
		return apperr.NotFound(op, "session")
	}

	// A concurrent peer hangup already owns the teardown.
	if !m.claim(id) {
		return nil
	}
	defer m.unclaim(id)

	if m.media != nil {
		if err := m.media.Disconnect(ctx, string(id)); err != nil {
			return apperr.Transport(op, err)
		}
	}
	m.transition(&s, SessionEnded)
	if err := m.registry.Delete(ctx, s); err != nil {
		return apperr.Store(op, err)
	}
	m.releaseSlot(ctx, s.OwnerID)
	m.log.Info("direct session ended", "session_id", id)
	return nil
}

// ActiveSessions lists the caller's live direct sessions, newest first.
func (m *Manager) ActiveSessions(ctx context.Context) ([]Session, error) {
	p, _ := auth.PrincipalFrom(ctx)
	out, err := m.registry.ListByOwner(ctx, p.UserID)
	if err != nil {
		return nil, apperr.Store("calls.active_sessions", err)
	}
	return out, nil
}

func (m *Manager) ownedSession(ctx context.Context, op string, id SessionID) (Session, error) {
	p, _ := auth.PrincipalFrom(ctx)
	s, err := m.registry.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) || (err == nil && s.OwnerID != p.UserID) {
		return Session{}, apperr.NotFound(op, "session")
	}
	if err != nil {
		return Session{}, apperr.Store(op, err)
	}
	if m.media == nil {
		return Session{}, apperr.Transport(op, errors.New("direct media transport not configured"))
	}
	return s, nil
}

func (m *Manager) SetMuted(ctx context.Context, id SessionID, muted bool) error {
	const op = "calls.set_muted"
	s, err := m.ownedSession(ctx, op, id)
	if err != nil {
		return err
	}
	if err := m.media.SetMuted(ctx, string(id), muted); err != nil {
		return apperr.Transport(op, err)
	}
	s.Muted = muted
	if err := m.registry.Put(ctx, s); err != nil {
		m.log.Warn("update session mute", "session_id", id, "err", err)
	}
	return nil
}

// Listen routes the session's inbound audio to onAudio.
func (m *Manager) Listen(ctx context.Context, id SessionID, onAudio media.AudioHandler) error {
	const op = "calls.listen"
	if _, err := m.ownedSession(ctx, op, id); err != nil {
		return err
	}
	if err := m.media.StartListening(ctx, string(id), onAudio); err != nil {
		return apperr.Transport(op, err)
	}
	return nil
}

func (m *Manager) StopListening(ctx context.Context, id SessionID) error {
	const op = "calls.stop_listening"
	if _, err := m.ownedSession(ctx, op, id); err != nil {
		return err
	}
	if err := m.media.StopListening(ctx, string(id)); err != nil {
		return apperr.Transport(op, err)
	}
	return nil
}

// History returns at most HistoryLimit logs, newest first. A non-empty number
// matches calls from or to it.
func (m *Manager) History(ctx context.Context, number string) ([]CallLog, error) {
	p, _ := auth.PrincipalFrom(ctx)
	out, err := m.repo.History(ctx, p.UserID, strings.TrimSpace(number), HistoryLimit)
	if err != nil {
		return nil, apperr.Store("calls.history", err)
	}
	return out, nil
}

func (m *Manager) Details(ctx context.Context, id string) (CallLog, error) {
	const op = "calls.details"
	p, _ := auth.PrincipalFrom(ctx)
	c, err := m.repo.Get(ctx, p.UserID, id)
	if errors.Is(err, ErrNotFound) {
		return CallLog{}, apperr.NotFound(op, "call")
	}
	if err != nil {
		return CallLog{}, apperr.Store(op, err)
	}
	return c, nil
}

// Recording fetches the recording reference from the provider.
// A missing recording is NotAvailable, not NotFound: the call exists.
func (m *Manager) Recording(ctx context.Context, id string) (telephony.Recording, error) {
	const op = "calls.recording"
	c, err := m.Details(ctx, id)
	if err != nil {
		return telephony.Recording{}, err
	}
	ref := c.CallSID
	if ref == "" {
		ref = c.ID
	}
	rec, err := m.provider.FetchRecording(ctx, ref)
	if err != nil {
		if apperr.StatusOf(err) == http.StatusNotFound {
			return telephony.Recording{}, apperr.NotAvailable(op, "recording")
		}
		return telephony.Recording{}, asProviderError(op, err)
	}
	if rec.RecordingURL == "" {
		return telephony.Recording{}, apperr.NotAvailable(op, "recording")
	}
	rec.CallID = c.ID
	return rec, nil
}

// RecordInbound records a provider-reported inbound call for the owner of ev.To.
// Repeated callbacks for one call sid update that call's log.
func (m *Manager) RecordInbound(ctx context.Context, owner numbers.PhoneNumber, ev telephony.InboundCallEvent) (CallLog, error) {
	c := CallLog{
		ID:            m.newID(),
		CallSID:       ev.CallSID,
		PhoneNumberID: owner.ID,
		UserID:        owner.AssignedTo,
		From:          ev.From,
		To:            ev.To,
		Direction:     DirectionInbound,
		Status:        ev.Status,
		Duration:      ev.DurationSeconds,
		RecordingURL:  ev.RecordingURL,
		CreatedAt:     m.now().UTC(),
	}
	stored, err := m.repo.Record(ctx, c)
	if err != nil {
		return CallLog{}, apperr.Store("calls.record_inbound", err)
	}
	return stored, nil
}

func asProviderError(op string, err error) error {
	if apperr.Is(err, apperr.CodeProviderError) {
		return err
	}
	return apperr.Provider(op, 0, err)
}
