package domain

import "time"

// ChannelSecret authenticates inbound webhooks for one instance. Only hashes
// are persisted.
type ChannelSecret struct {
	InstanceName       string
	SecretHash         string
	PreviousSecretHash string
	PreviousValidUntil *time.Time
	RotatedAt          *time.Time
}

// Accepts reports whether hash matches the current secret or a previous one
// that is still inside its grace window.
func (c ChannelSecret) Accepts(hash string, now time.Time) bool {
	if hash == "" {
		return false
	}
	if c.SecretHash == hash {
		return true
	}
	return c.PreviousSecretHash == hash && c.PreviousValidUntil != nil && now.Before(*c.PreviousValidUntil)
}
