package domain

import "time"

type SenderType string

const (
	SenderContact SenderType = "contact"
	SenderAgent   SenderType = "agent"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageDocument:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

type Contact struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Conversation struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	ContactID      string    `json:"contact_id"`
	ConnectionID   string    `json:"connection_id"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	ConnectionID   string        `json:"connection_id"`
	SenderType     SenderType    `json:"sender_type"`
	MessageType    MessageType   `json:"message_type"`
	Status         MessageStatus `json:"status"`
	ExternalID     *string       `json:"external_id,omitempty"`
	Content        string        `json:"content"`
	MediaURL       string        `json:"media_url,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// InboundMessage is what the webhook receiver extracts from a message-bearing event.
type InboundMessage struct {
	ConnectionID string
	WorkspaceID  string
	ExternalID   string
	PhoneNumber  string
	PushName     string
	SenderType   SenderType
	MessageType  MessageType
	Content      string
	MediaURL     string
	Timestamp    time.Time
}

// OutboundMessage is the input of the outbound router.
type OutboundMessage struct {
	WorkspaceID    string      `json:"workspace_id"`
	InstanceName   string      `json:"instance"`
	ConversationID string      `json:"conversation_id"`
	PhoneNumber    string      `json:"phone_number"`
	MessageType    MessageType `json:"message_type"`
	Content        string      `json:"content"`
	MediaURL       string      `json:"media_url,omitempty"`
	FileName       string      `json:"file_name,omitempty"`
}
