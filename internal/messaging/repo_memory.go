package messaging

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu            sync.Mutex
	conversations []Conversation
	messages      []Message

	// Numbers supplies the joined owning-number fields, keyed by phone number id.
	Numbers map[string]NumberInfo

	// AppendErr, when set, is returned by Append.
	AppendErr error
}

type NumberInfo struct {
	PhoneNumber  string
	FriendlyName string
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Numbers: map[string]NumberInfo{}} }

func (r *MemoryRepo) Conversations(_ context.Context, ownerID, participant string) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conversation, 0)
	for _, c := range r.conversations {
		if ownerID == "" || c.UserID != ownerID {
			continue
		}
		if participant != "" && c.ParticipantNumber != participant {
			continue
		}
		info := r.Numbers[c.PhoneNumberID]
		c.PhoneNumber, c.FriendlyName = info.PhoneNumber, info.FriendlyName
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (r *MemoryRepo) Messages(_ context.Context, ownerID, conversationID string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0)
	for _, m := range r.messages {
		if ownerID != "" && m.UserID == ownerID && m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) Append(_ context.Context, m Message) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AppendErr != nil {
		return Message{}, r.AppendErr
	}
	if m.MessageSID != "" {
		for _, existing := range r.messages {
			if existing.MessageSID == m.MessageSID {
				return existing, nil
			}
		}
	}
	idx := -1
	for i, c := range r.conversations {
		if c.PhoneNumberID == m.PhoneNumberID && c.ParticipantNumber == m.participant() {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.conversations = append(r.conversations, Conversation{
			ID:                uuid.NewString(),
			PhoneNumberID:     m.PhoneNumberID,
			ParticipantNumber: m.participant(),
			UserID:            m.UserID,
			LastMessageAt:     m.CreatedAt,
			CreatedAt:         m.CreatedAt,
		})
		idx = len(r.conversations) - 1
	} else if m.CreatedAt.After(r.conversations[idx].LastMessageAt) {
		r.conversations[idx].LastMessageAt = m.CreatedAt
	}
	m.ConversationID = r.conversations[idx].ID
	r.messages = append(r.messages, m)
	return m, nil
}
