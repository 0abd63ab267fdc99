package numbers

import (
	"time"

	"phone-gateway/internal/telephony"
)

// PhoneNumber is a provisioned line owned by one principal.
// Capabilities are fixed at provisioning time and never updated.
type PhoneNumber struct {
	ID           string                 `json:"id"`
	PhoneNumber  string                 `json:"phone_number"`
	FriendlyName string                 `json:"friendly_name,omitempty"`
	Capabilities telephony.Capabilities `json:"capabilities"`
	Provider     string                 `json:"provider"`
	Status       Status                 `json:"status"`
	AssignedTo   string                 `json:"assigned_to"`
	CreatedAt    time.Time              `json:"created_at"`
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)
