package domain

import (
	"strings"
	"time"
)

// Status is the local lifecycle state of a WhatsApp connection.
type Status string

const (
	StatusCreating     Status = "creating"
	StatusQR           Status = "qr"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreating, StatusQR, StatusConnecting, StatusConnected, StatusDisconnected, StatusError:
		return true
	}
	return false
}

// AcceptsQR reports whether a QR code is meaningful in this state.
func (s Status) AcceptsQR() bool {
	return s != StatusConnected
}

// rank orders the pairing chain creating -> qr -> connecting -> connected.
// Terminal-ish states sit outside the chain.
func (s Status) rank() int {
	switch s {
	case StatusCreating:
		return 0
	case StatusQR:
		return 1
	case StatusConnecting:
		return 2
	case StatusConnected:
		return 3
	}
	return -1
}

// CanTransition validates locally initiated transitions. Provider driven
// updates bypass it and converge by last write wins instead.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusDisconnected, StatusError:
		// re-pair or drop
		return to == StatusQR || to == StatusConnecting || to == StatusConnected ||
			to == StatusDisconnected || to == StatusError
	case StatusConnected:
		return to == StatusDisconnected || to == StatusError
	}
	if to == StatusDisconnected || to == StatusError {
		return true
	}
	return to.rank() > from.rank()
}

// StatusFromProviderState maps an Evolution state string onto a local status.
func StatusFromProviderState(state string) Status {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "open", "connected":
		return StatusConnected
	case "connecting":
		return StatusConnecting
	default:
		return StatusDisconnected
	}
}

// HistoryRecovery controls how much chat history the provider syncs on pairing.
type HistoryRecovery string

const (
	HistoryNone    HistoryRecovery = "none"
	HistoryWeek    HistoryRecovery = "week"
	HistoryMonth   HistoryRecovery = "month"
	HistoryQuarter HistoryRecovery = "quarter"
)

func (h HistoryRecovery) Valid() bool {
	switch h {
	case HistoryNone, HistoryWeek, HistoryMonth, HistoryQuarter:
		return true
	}
	return false
}

// Days is the history window in days; zero disables history sync.
func (h HistoryRecovery) Days() int {
	switch h {
	case HistoryWeek:
		return 7
	case HistoryMonth:
		return 30
	case HistoryQuarter:
		return 90
	}
	return 0
}

type Connection struct {
	ID              string          `json:"id"`
	InstanceName    string          `json:"instance_name"`
	WorkspaceID     string          `json:"workspace_id"`
	Status          Status          `json:"status"`
	QRCode          string          `json:"qr_code,omitempty"`
	PairingCode     string          `json:"pairing_code,omitempty"`
	PhoneNumber     string          `json:"phone_number,omitempty"`
	HistoryRecovery HistoryRecovery `json:"history_recovery"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastActivityAt  *time.Time      `json:"last_activity_at,omitempty"`
}

// StatusUpdate is applied by UpsertStatus only when At is not older than the
// stored updated_at. Nil pointers leave the column untouched.
type StatusUpdate struct {
	Status      Status
	PhoneNumber *string
	QRCode      *string
	PairingCode *string
	At          time.Time
}

// QRUpdate stores a fresh QR without changing the status unless the record
// is still being created.
type QRUpdate struct {
	QRCode      string
	PairingCode string
	At          time.Time
}

type Quota struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

func (q Quota) Exceeded() bool {
	return q.Used >= q.Limit
}

// Actor carries the caller identity explicitly through every operation.
type Actor struct {
	UserID      string
	WorkspaceID string
}

// Owns reports whether the actor's workspace owns c.
func (a Actor) Owns(c Connection) bool {
	return a.WorkspaceID != "" && a.WorkspaceID == c.WorkspaceID
}
