package telephony

import (
	"context"
	"sync"
	"time"
)

// StubProvider is an in-process TelephonyProvider for tests and local runs.
// Each hook is optional; unset hooks return zero values.
type StubProvider struct {
	mu sync.Mutex

	SearchFn    func(SearchQuery) ([]CandidateNumber, error)
	ProvisionFn func(ProvisionRequest) (ProvisionedNumber, error)
	OriginateFn func(OriginateRequest) (Call, error)
	RecordingFn func(callID string) (Recording, error)
	SendSMSFn   func(SMSRequest) (SentMessage, error)
	UsageFn     func(start, end time.Time) (UsageSummary, error)

	Provisioned []ProvisionRequest
	Originated  []OriginateRequest
	Sent        []SMSRequest
}

func (s *StubProvider) SearchNumbers(_ context.Context, q SearchQuery) ([]CandidateNumber, error) {
	if s.SearchFn == nil {
		return []CandidateNumber{}, nil
	}
	return s.SearchFn(q)
}

func (s *StubProvider) ProvisionNumber(_ context.Context, req ProvisionRequest) (ProvisionedNumber, error) {
	s.mu.Lock()
	s.Provisioned = append(s.Provisioned, req)
	s.mu.Unlock()
	if s.ProvisionFn == nil {
		return ProvisionedNumber{PhoneNumber: req.PhoneNumber, Provider: "stub"}, nil
	}
	return s.ProvisionFn(req)
}

func (s *StubProvider) OriginateCall(_ context.Context, req OriginateRequest) (Call, error) {
	s.mu.Lock()
	s.Originated = append(s.Originated, req)
	s.mu.Unlock()
	if s.OriginateFn == nil {
		return Call{CallSID: "CA-stub", From: req.From, To: req.To, Status: "queued"}, nil
	}
	return s.OriginateFn(req)
}

func (s *StubProvider) FetchRecording(_ context.Context, callID string) (Recording, error) {
	if s.RecordingFn == nil {
		return Recording{CallID: callID}, nil
	}
	return s.RecordingFn(callID)
}

func (s *StubProvider) SendSMS(_ context.Context, req SMSRequest) (SentMessage, error) {
	s.mu.Lock()
	s.Sent = append(s.Sent, req)
	s.mu.Unlock()
	if s.SendSMSFn == nil {
		return SentMessage{MessageSID: "SM-stub", Status: "queued"}, nil
	}
	return s.SendSMSFn(req)
}

func (s *StubProvider) UsageSummary(_ context.Context, start, end time.Time) (UsageSummary, error) {
	if s.UsageFn == nil {
		return UsageSummary{Totals: map[string]UsageLine{}}, nil
	}
	return s.UsageFn(start, end)
}
