package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageGormRepository struct {
	db *gorm.DB
}

func NewMessageGormRepository(db *gorm.DB) *MessageGormRepository {
	return &MessageGormRepository{db: db}
}

func (r *MessageGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&contactModel{}, &conversationModel{}, &messageModel{})
}

// InsertInboundMessage resolves contact and conversation by phone number,
// stores the message and bumps the conversation activity. A message whose
// external id is already recorded for the connection yields ErrDuplicateMessage.
func (r *MessageGormRepository) InsertInboundMessage(ctx context.Context, in domain.InboundMessage) (domain.Message, error) {
	ts := in.Timestamp.UTC()
	if in.Timestamp.IsZero() {
		ts = time.Now().UTC()
	}

	var out messageModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.ExternalID != "" {
			dup, err := externalIDExists(tx, in.ConnectionID, in.ExternalID)
			if err != nil {
				return err
			}
			if dup {
				return domain.ErrDuplicateMessage
			}
		}

		conv, err := resolveConversation(tx, in.WorkspaceID, in.ConnectionID, in.PhoneNumber, in.PushName, ts)
		if err != nil {
			return err
		}

		status := domain.MessageDelivered
		if in.SenderType == domain.SenderAgent {
			status = domain.MessageSent
		}
		msgType := in.MessageType
		if !msgType.Valid() {
			msgType = domain.MessageText
		}

		out = messageModel{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			ConnectionID:   in.ConnectionID,
			SenderType:     string(in.SenderType),
			MessageType:    string(msgType),
			Status:         string(status),
			Content:        in.Content,
			MediaURL:       in.MediaURL,
			CreatedAt:      ts,
		}
		if in.ExternalID != "" {
			ext := in.ExternalID
			out.ExternalID = &ext
		}
		if err := tx.Create(&out).Error; err != nil {
			return err
		}

		return tx.Model(&conversationModel{}).
			Where("id = ? AND last_activity_at < ?", conv.ID, ts).
			Update("last_activity_at", ts).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			return domain.Message{}, err
		}
		// a concurrent delivery may have won the unique index
		if in.ExternalID != "" {
			if dup, dupErr := externalIDExists(r.db.WithContext(ctx), in.ConnectionID, in.ExternalID); dupErr == nil && dup {
				return domain.Message{}, domain.ErrDuplicateMessage
			}
		}
		return domain.Message{}, fmt.Errorf("insert inbound message: %w", err)
	}
	return fromMessageModel(out), nil
}

// InsertOutbound records an agent message in status sending.
func (r *MessageGormRepository) InsertOutbound(ctx context.Context, connectionID string, msg domain.OutboundMessage) (domain.Message, error) {
	now := time.Now().UTC()
	var out messageModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conversationID := msg.ConversationID
		if conversationID == "" {
			conv, err := resolveConversation(tx, msg.WorkspaceID, connectionID, msg.PhoneNumber, "", now)
			if err != nil {
				return err
			}
			conversationID = conv.ID
		} else if err := tx.Model(&conversationModel{}).
			Where("id = ?", conversationID).
			Update("last_activity_at", now).Error; err != nil {
			return err
		}

		out = messageModel{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			ConnectionID:   connectionID,
			SenderType:     string(domain.SenderAgent),
			MessageType:    string(msg.MessageType),
			Status:         string(domain.MessageSending),
			Content:        msg.Content,
			MediaURL:       msg.MediaURL,
			CreatedAt:      now,
		}
		return tx.Create(&out).Error
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert outbound message: %w", err)
	}
	return fromMessageModel(out), nil
}

// FinalizeOutbound sets the final status and, when known, the provider id.
// The provider may echo our own send back as MESSAGES_UPSERT before we get
// here; that echo row already holds the external id, so it is absorbed into
// this message instead of blocking the update on the unique index.
func (r *MessageGormRepository) FinalizeOutbound(ctx context.Context, messageID string, status domain.MessageStatus, externalID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg messageModel
		if err := tx.First(&msg, "id = ?", messageID).Error; err != nil {
			return fmt.Errorf("message %s: %w", messageID, err)
		}
		if err := tx.Model(&messageModel{}).Where("id = ?", messageID).Update("status", string(status)).Error; err != nil {
			return err
		}
		if externalID == "" {
			return nil
		}

		var holder messageModel
		err := tx.Where("connection_id = ? AND external_id = ? AND id <> ?", msg.ConnectionID, externalID, messageID).
			Limit(1).Find(&holder).Error
		if err != nil {
			return err
		}
		if holder.ID != "" {
			if holder.SenderType != string(domain.SenderAgent) {
				// not our echo; keep the status, leave the id where it is
				return nil
			}
			if err := tx.Delete(&messageModel{}, "id = ?", holder.ID).Error; err != nil {
				return err
			}
		}
		return tx.Model(&messageModel{}).Where("id = ?", messageID).Update("external_id", externalID).Error
	})
}

func (r *MessageGormRepository) FindMessage(ctx context.Context, id string) (domain.Message, error) {
	var m messageModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return domain.Message{}, err
	}
	return fromMessageModel(m), nil
}

func (r *MessageGormRepository) CountByExternalID(ctx context.Context, connectionID, externalID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("connection_id = ? AND external_id = ?", connectionID, externalID).
		Count(&count).Error
	return count, err
}

func externalIDExists(tx *gorm.DB, connectionID, externalID string) (bool, error) {
	var count int64
	if err := tx.Model(&messageModel{}).
		Where("connection_id = ? AND external_id = ?", connectionID, externalID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func resolveConversation(tx *gorm.DB, workspaceID, connectionID, phone, name string, at time.Time) (conversationModel, error) {
	var contact contactModel
	if err := tx.
		Where(contactModel{WorkspaceID: workspaceID, PhoneNumber: phone}).
		Attrs(contactModel{ID: uuid.NewString(), Name: name, CreatedAt: at}).
		FirstOrCreate(&contact).Error; err != nil {
		return conversationModel{}, fmt.Errorf("resolve contact: %w", err)
	}

	var conv conversationModel
	if err := tx.
		Where(conversationModel{WorkspaceID: workspaceID, ContactID: contact.ID, ConnectionID: connectionID}).
		Attrs(conversationModel{ID: uuid.NewString(), LastActivityAt: at, CreatedAt: at}).
		FirstOrCreate(&conv).Error; err != nil {
		return conversationModel{}, fmt.Errorf("resolve conversation: %w", err)
	}
	return conv, nil
}
