package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"phone-gateway/internal/apperr"
	"phone-gateway/internal/auth"
	"phone-gateway/internal/numbers"
	"phone-gateway/internal/telephony"
	"phone-gateway/pkg/logger"

	"github.com/google/uuid"
)

// NumberOwners resolves which principal owns an E.164 number.
type NumberOwners interface {
	Owner(ctx context.Context, phoneNumber string) (numbers.PhoneNumber, error)
}

// Service sends SMS through the provider and reads conversation threads.
type Service struct {
	repo     Repository
	provider telephony.TelephonyProvider
	owners   NumberOwners
	log      *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, provider telephony.TelephonyProvider, owners NumberOwners, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		owners:   owners,
		log:      logger.Component(log, "messaging"),
		now:      time.Now,
	}
}

// Send hands the message to the provider. The returned status is the provider's
// accepted state; delivery updates arrive on the realtime channel.
//
// Once the provider accepts, a failure to record the message is logged and not
// returned, so callers never resend an accepted message.
func (s *Service) Send(ctx context.Context, from, to, body string) (Message, error) {
	const op = "messaging.send"
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return Message{}, apperr.AuthRequired(op)
	}
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" || body == "" {
		return Message{}, apperr.InvalidInput(op, "from, to and body are required")
	}

	sent, err := s.provider.SendSMS(ctx, telephony.SMSRequest{From: from, To: to, Body: body})
	if err != nil {
		if apperr.Is(err, apperr.CodeProviderError) {
			return Message{}, err
		}
		return Message{}, apperr.Provider(op, 0, err)
	}

	m := Message{
		ID:         uuid.NewString(),
		MessageSID: sent.MessageSID,
		UserID:     p.UserID,
		From:       from,
		To:         to,
		Body:       body,
		Direction:  DirectionOutbound,
		Status:     sent.Status,
		CreatedAt:  s.now().UTC(),
	}

	numberID, ok := s.ownedNumberID(ctx, p.UserID, from)
	if !ok {
		s.log.Warn("sent message not recorded: sender number not owned", "message_sid", m.MessageSID, "user_id", p.UserID)
		return m, nil
	}
	m.PhoneNumberID = numberID
	stored, err := s.repo.Append(ctx, m)
	if err != nil {
		s.log.Warn("sent message not recorded", "message_sid", m.MessageSID, "user_id", p.UserID, "err", err)
		return m, nil
	}
	return stored, nil
}

func (s *Service) ownedNumberID(ctx context.Context, userID, number string) (string, bool) {
	if s.owners == nil {
		return "", false
	}
	n, err := s.owners.Owner(ctx, number)
	if err != nil || n.AssignedTo != userID {
		return "", false
	}
	return n.ID, true
}

// Conversations lists the caller's threads, most recently active first.
// A non-empty participant filters to that external number.
func (s *Service) Conversations(ctx context.Context, participant string) ([]Conversation, error) {
	p, _ := auth.PrincipalFrom(ctx)
	out, err := s.repo.Conversations(ctx, p.UserID, strings.TrimSpace(participant))
	if err != nil {
		return nil, apperr.Store("messaging.conversations", err)
	}
	return out, nil
}

// Messages returns a thread oldest first, the reverse of the conversation list order.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	p, _ := auth.PrincipalFrom(ctx)
	out, err := s.repo.Messages(ctx, p.UserID, conversationID)
	if err != nil {
		return nil, apperr.Store("messaging.messages", err)
	}
	return out, nil
}

// RecordInbound appends a provider-reported inbound message for owner.
func (s *Service) RecordInbound(ctx context.Context, owner numbers.PhoneNumber, ev telephony.InboundSMSEvent) (Message, error) {
	m := Message{
		ID:            uuid.NewString(),
		MessageSID:    ev.MessageSID,
		PhoneNumberID: owner.ID,
		UserID:        owner.AssignedTo,
		From:          ev.From,
		To:            ev.To,
		Body:          ev.Body,
		Direction:     DirectionInbound,
		Status:        ev.Status,
		CreatedAt:     s.now().UTC(),
	}
	stored, err := s.repo.Append(ctx, m)
	if err != nil {
		return Message{}, apperr.Store("messaging.record_inbound", err)
	}
	return stored, nil
}
