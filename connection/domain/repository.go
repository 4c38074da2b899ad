package domain

import (
	"context"
	"time"
)

// ConnectionRepository is the persistence contract of the connection store.
type ConnectionRepository interface {
	Init(ctx context.Context) error

	Insert(ctx context.Context, conn Connection, secret ChannelSecret) error
	FindByID(ctx context.Context, id string) (Connection, error)
	FindByInstance(ctx context.Context, instanceName string) (Connection, error)
	ListForWorkspace(ctx context.Context, workspaceID string) ([]Connection, Quota, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)

	// UpsertStatus applies u only if u.At is not older than the row's updated_at.
	UpsertStatus(ctx context.Context, instanceName string, u StatusUpdate) (bool, error)
	// SetQRCode stores a QR unless the connection is already connected.
	SetQRCode(ctx context.Context, instanceName string, u QRUpdate) (bool, error)
	TouchActivity(ctx context.Context, instanceName string, at time.Time) error

	Delete(ctx context.Context, id string) error

	FindChannelBySecret(ctx context.Context, secret string, now time.Time) (ChannelSecret, error)
	RotateChannelSecret(ctx context.Context, instanceName, newSecret string, graceUntil time.Time) error
}

type WorkspaceRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, ws Workspace) error
	GetByID(ctx context.Context, id string) (Workspace, error)
	Ensure(ctx context.Context, id string) (Workspace, error)
	UpdateAutomation(ctx context.Context, id string, automation Automation) error
	Automation(ctx context.Context, id string) (Automation, error)
}

type MessageRepository interface {
	Init(ctx context.Context) error
	// InsertInboundMessage returns ErrDuplicateMessage when the external id is already known.
	InsertInboundMessage(ctx context.Context, msg InboundMessage) (Message, error)
	InsertOutbound(ctx context.Context, connectionID string, out OutboundMessage) (Message, error)
	FinalizeOutbound(ctx context.Context, messageID string, status MessageStatus, externalID string) error
	FindMessage(ctx context.Context, id string) (Message, error)
	CountByExternalID(ctx context.Context, connectionID, externalID string) (int64, error)
}

// DedupStore is a fast pre-check in front of the unique index.
type DedupStore interface {
	// Seen marks the key and reports whether it had been marked before.
	Seen(ctx context.Context, instance, externalID string) (bool, error)
	// Forget drops a mark, used when persistence failed after marking.
	Forget(ctx context.Context, instance, externalID string) error
}
