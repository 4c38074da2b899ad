package repository

import (
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
)

// --- Persistence Models ---

type connectionModel struct {
	ID              string     `gorm:"primaryKey;column:id"`
	InstanceName    string     `gorm:"column:instance_name;not null;uniqueIndex"`
	WorkspaceID     string     `gorm:"column:workspace_id;not null;index"`
	Status          string     `gorm:"column:status;not null;default:'creating'"`
	QRCode          string     `gorm:"column:qr_code;type:text"`
	PairingCode     string     `gorm:"column:pairing_code"`
	PhoneNumber     string     `gorm:"column:phone_number"`
	HistoryRecovery string     `gorm:"column:history_recovery;not null;default:'none'"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
	LastActivityAt  *time.Time `gorm:"column:last_activity_at"`
}

func (connectionModel) TableName() string { return "connections" }

type channelModel struct {
	InstanceName       string     `gorm:"primaryKey;column:instance_name"`
	SecretHash         string     `gorm:"column:secret_hash;not null;index"`
	PreviousSecretHash string     `gorm:"column:previous_secret_hash;index"`
	PreviousValidUntil *time.Time `gorm:"column:previous_valid_until"`
	RotatedAt          *time.Time `gorm:"column:rotated_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null"`
}

func (channelModel) TableName() string { return "channels" }

type workspaceModel struct {
	ID                   string    `gorm:"primaryKey;column:id"`
	Name                 string    `gorm:"column:name;not null"`
	MaxConnections       int       `gorm:"column:max_connections;not null;default:5"`
	AutomationWebhookURL string    `gorm:"column:automation_webhook_url"`
	AutomationSecret     string    `gorm:"column:automation_secret;type:text"` // AES-GCM sealed
	CreatedAt            time.Time `gorm:"column:created_at;not null"`
	UpdatedAt            time.Time `gorm:"column:updated_at;not null"`
}

func (workspaceModel) TableName() string { return "workspaces" }

type contactModel struct {
	ID          string    `gorm:"primaryKey;column:id"`
	WorkspaceID string    `gorm:"column:workspace_id;not null;uniqueIndex:idx_contacts_workspace_phone"`
	PhoneNumber string    `gorm:"column:phone_number;not null;uniqueIndex:idx_contacts_workspace_phone"`
	Name        string    `gorm:"column:name"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (contactModel) TableName() string { return "contacts" }

type conversationModel struct {
	ID             string    `gorm:"primaryKey;column:id"`
	WorkspaceID    string    `gorm:"column:workspace_id;not null;uniqueIndex:idx_conversations_owner"`
	ContactID      string    `gorm:"column:contact_id;not null;uniqueIndex:idx_conversations_owner"`
	ConnectionID   string    `gorm:"column:connection_id;not null;uniqueIndex:idx_conversations_owner"`
	LastActivityAt time.Time `gorm:"column:last_activity_at;not null;index"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

func (conversationModel) TableName() string { return "conversations" }

type messageModel struct {
	ID             string    `gorm:"primaryKey;column:id"`
	ConversationID string    `gorm:"column:conversation_id;not null;index"`
	ConnectionID   string    `gorm:"column:connection_id;not null;uniqueIndex:idx_messages_connection_external"`
	ExternalID     *string   `gorm:"column:external_id;uniqueIndex:idx_messages_connection_external"`
	SenderType     string    `gorm:"column:sender_type;not null"`
	MessageType    string    `gorm:"column:message_type;not null;default:'text'"`
	Status         string    `gorm:"column:status;not null"`
	Content        string    `gorm:"column:content;type:text"`
	MediaURL       string    `gorm:"column:media_url"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

func (messageModel) TableName() string { return "messages" }

// --- Mappers ---

func toConnectionModel(c domain.Connection) connectionModel {
	return connectionModel{
		ID:              c.ID,
		InstanceName:    c.InstanceName,
		WorkspaceID:     c.WorkspaceID,
		Status:          string(c.Status),
		QRCode:          c.QRCode,
		PairingCode:     c.PairingCode,
		PhoneNumber:     c.PhoneNumber,
		HistoryRecovery: string(c.HistoryRecovery),
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
		LastActivityAt:  c.LastActivityAt,
	}
}

func fromConnectionModel(m connectionModel) domain.Connection {
	return domain.Connection{
		ID:              m.ID,
		InstanceName:    m.InstanceName,
		WorkspaceID:     m.WorkspaceID,
		Status:          domain.Status(m.Status),
		QRCode:          m.QRCode,
		PairingCode:     m.PairingCode,
		PhoneNumber:     m.PhoneNumber,
		HistoryRecovery: domain.HistoryRecovery(m.HistoryRecovery),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		LastActivityAt:  m.LastActivityAt,
	}
}

func fromChannelModel(m channelModel) domain.ChannelSecret {
	return domain.ChannelSecret{
		InstanceName:       m.InstanceName,
		SecretHash:         m.SecretHash,
		PreviousSecretHash: m.PreviousSecretHash,
		PreviousValidUntil: m.PreviousValidUntil,
		RotatedAt:          m.RotatedAt,
	}
}

func fromMessageModel(m messageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		ConnectionID:   m.ConnectionID,
		SenderType:     domain.SenderType(m.SenderType),
		MessageType:    domain.MessageType(m.MessageType),
		Status:         domain.MessageStatus(m.Status),
		ExternalID:     m.ExternalID,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		CreatedAt:      m.CreatedAt,
	}
}
