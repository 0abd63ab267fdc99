package messaging

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"testing"
	"time"

	"phone-gateway/internal/apperr"
	"phone-gateway/internal/auth"
	"phone-gateway/internal/numbers"
	"phone-gateway/internal/telephony"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var owned = numbers.PhoneNumber{ID: "n1", PhoneNumber: "+15551230000", FriendlyName: "Support", AssignedTo: "u1", Status: numbers.StatusActive}

type ownersFunc func(string) (numbers.PhoneNumber, error)

func (f ownersFunc) Owner(_ context.Context, n string) (numbers.PhoneNumber, error) { return f(n) }

func ownedLookup(n string) (numbers.PhoneNumber, error) {
	if n == owned.PhoneNumber {
		return owned, nil
	}
	return numbers.PhoneNumber{}, apperr.NotFound("numbers.owner", "phone number")
}

func userCtx(id string) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{UserID: id})
}

func newService(repo *MemoryRepo, provider *telephony.StubProvider) *Service {
	repo.Numbers[owned.ID] = NumberInfo{PhoneNumber: owned.PhoneNumber, FriendlyName: owned.FriendlyName}
	return NewService(repo, provider, ownersFunc(ownedLookup), nil)
}

func TestSend_ReturnsProviderStatusAndRecordsThread(t *testing.T) {
	repo := NewMemoryRepo()
	provider := &telephony.StubProvider{SendSMSFn: func(telephony.SMSRequest) (telephony.SentMessage, error) {
		return telephony.SentMessage{MessageSID: "SM1", Status: "accepted"}, nil
	}}
	svc := newService(repo, provider)
	ctx := userCtx("u1")

	m, err := svc.Send(ctx, owned.PhoneNumber, "+15557654321", "hello")
	require.NoError(t, err)
	assert.Equal(t, "accepted", m.Status)
	assert.Equal(t, DirectionOutbound, m.Direction)
	assert.NotEmpty(t, m.ConversationID)

	convs, err := svc.Conversations(ctx, "")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "+15557654321", convs[0].ParticipantNumber)
	assert.Equal(t, "Support", convs[0].FriendlyName)
	assert.Equal(t, owned.PhoneNumber, convs[0].PhoneNumber)
}

func TestSend_OneConversationPerParticipant(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newService(repo, &telephony.StubProvider{})
	ctx := userCtx("u1")
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return base }
	first, err := svc.Send(ctx, owned.PhoneNumber, "+15557654321", "one")
	require.NoError(t, err)

	_, err = svc.RecordInbound(context.Background(), owned, telephony.InboundSMSEvent{
		MessageSID: "SM2", From: "+15557654321", To: owned.PhoneNumber, Body: "two", Status: "received",
	})
	require.NoError(t, err)

	convs, _ := svc.Conversations(ctx, "")
	require.Len(t, convs, 1)
	msgs, err := svc.Messages(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestRecordInbound_RedeliveryIsStoredOnce(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newService(repo, &telephony.StubProvider{})
	ev := telephony.InboundSMSEvent{MessageSID: "SM7", From: "+15557654321", To: owned.PhoneNumber, Body: "hi", Status: "received"}

	first, err := svc.RecordInbound(context.Background(), owned, ev)
	require.NoError(t, err)
	again, err := svc.RecordInbound(context.Background(), owned, ev)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	msgs, err := repo.Messages(context.Background(), owned.AssignedTo, first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSend_ProviderFailure(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newService(repo, &telephony.StubProvider{SendSMSFn: func(telephony.SMSRequest) (telephony.SentMessage, error) {
		return telephony.SentMessage{}, apperr.Provider("telephony.send_sms", http.StatusBadRequest, errors.New("invalid to"))
	}})

	_, err := svc.Send(userCtx("u1"), owned.PhoneNumber, "bogus", "hi")
	assert.True(t, apperr.Is(err, apperr.CodeProviderError))
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
	convs, _ := repo.Conversations(context.Background(), "u1", "")
	assert.Empty(t, convs)
}

func TestSend_StoreFailureAfterAcceptanceIsNotAnError(t *testing.T) {
	repo := NewMemoryRepo()
	repo.AppendErr = errors.New("connection reset")
	svc := newService(repo, &telephony.StubProvider{})

	m, err := svc.Send(userCtx("u1"), owned.PhoneNumber, "+15557654321", "hi")
	require.NoError(t, err)
	assert.Equal(t, "SM-stub", m.MessageSID)
}

func TestSend_RequiresPrincipal(t *testing.T) {
	provider := &telephony.StubProvider{}
	svc := newService(NewMemoryRepo(), provider)
	_, err := svc.Send(context.Background(), owned.PhoneNumber, "+1", "hi")
	assert.True(t, apperr.Is(err, apperr.CodeAuthRequired))
	assert.Empty(t, provider.Sent)
}

func TestMessages_ChronologicalRegardlessOfInsertOrder(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newService(repo, &telephony.StubProvider{})
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	offsets := rand.Perm(20)
	var convID string
	for _, off := range offsets {
		m, err := repo.Append(context.Background(), Message{
			ID: "m", PhoneNumberID: owned.ID, UserID: "u1", From: "+15557654321", To: owned.PhoneNumber,
			Direction: DirectionInbound, CreatedAt: base.Add(time.Duration(off) * time.Minute),
		})
		require.NoError(t, err)
		convID = m.ConversationID
	}

	msgs, err := svc.Messages(userCtx("u1"), convID)
	require.NoError(t, err)
	require.Len(t, msgs, 20)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "messages out of order at %d", i)
	}
}

func TestConversations_NewestActivityFirst(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newService(repo, &telephony.StubProvider{})
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	participants := []string{"+1001", "+1002", "+1003", "+1004"}
	for i, p := range participants {
		for j := 0; j < 3; j++ {
			_, err := repo.Append(context.Background(), Message{
				ID: p, PhoneNumberID: owned.ID, UserID: "u1", From: p, To: owned.PhoneNumber, Direction: DirectionInbound,
				CreatedAt: base.Add(time.Duration((i*7+j*5)%11) * time.Minute),
			})
			require.NoError(t, err)
		}
	}

	convs, err := svc.Conversations(userCtx("u1"), "")
	require.NoError(t, err)
	require.Len(t, convs, len(participants))
	for i := 1; i < len(convs); i++ {
		assert.False(t, convs[i].LastMessageAt.After(convs[i-1].LastMessageAt), "conversations out of order at %d", i)
	}

	filtered, err := svc.Conversations(userCtx("u1"), "+1003")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "+1003", filtered[0].ParticipantNumber)
}

func TestReads_NoPrincipalSeesNothing(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newService(repo, &telephony.StubProvider{})
	m, err := svc.RecordInbound(context.Background(), owned, telephony.InboundSMSEvent{From: "+1001", To: owned.PhoneNumber, Body: "x"})
	require.NoError(t, err)

	convs, err := svc.Conversations(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, convs)
	msgs, err := svc.Messages(context.Background(), m.ConversationID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
