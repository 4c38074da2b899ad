package repository

import (
	"context"
	"testing"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRepo_InboundDedup(t *testing.T) {
	repo := NewMessageGormRepository(setupTestDB(t))
	ctx := context.Background()

	in := domain.InboundMessage{
		ConnectionID: "c1",
		WorkspaceID:  "ws1",
		ExternalID:   "3EB0ABCDEF",
		PhoneNumber:  "5511999999999",
		PushName:     "Maria",
		SenderType:   domain.SenderContact,
		MessageType:  domain.MessageText,
		Content:      "hola",
		Timestamp:    time.Now().UTC(),
	}

	msg, err := repo.InsertInboundMessage(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageDelivered, msg.Status)
	require.NotNil(t, msg.ExternalID)

	_, err = repo.InsertInboundMessage(ctx, in)
	assert.ErrorIs(t, err, domain.ErrDuplicateMessage)

	count, err := repo.CountByExternalID(ctx, "c1", "3EB0ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMessageRepo_InboundReusesConversation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageGormRepository(db)
	ctx := context.Background()
	first := time.Now().UTC().Add(-time.Minute)

	m1, err := repo.InsertInboundMessage(ctx, domain.InboundMessage{
		ConnectionID: "c1", WorkspaceID: "ws1", ExternalID: "e1", PhoneNumber: "551100",
		SenderType: domain.SenderContact, Content: "one", Timestamp: first,
	})
	require.NoError(t, err)
	m2, err := repo.InsertInboundMessage(ctx, domain.InboundMessage{
		ConnectionID: "c1", WorkspaceID: "ws1", ExternalID: "e2", PhoneNumber: "551100",
		SenderType: domain.SenderAgent, MessageType: domain.MessageImage, Content: "two", Timestamp: first.Add(time.Minute),
	})
	require.NoError(t, err)

	assert.Equal(t, m1.ConversationID, m2.ConversationID)
	assert.Equal(t, domain.MessageSent, m2.Status)
	assert.Equal(t, domain.MessageImage, m2.MessageType)

	var conv conversationModel
	require.NoError(t, db.First(&conv, "id = ?", m1.ConversationID).Error)
	assert.WithinDuration(t, first.Add(time.Minute), conv.LastActivityAt, time.Millisecond)

	var contacts int64
	db.Model(&contactModel{}).Count(&contacts)
	assert.Equal(t, int64(1), contacts)
}

func TestMessageRepo_InboundWithoutExternalID(t *testing.T) {
	repo := NewMessageGormRepository(setupTestDB(t))
	ctx := context.Background()
	in := domain.InboundMessage{ConnectionID: "c1", WorkspaceID: "ws1", PhoneNumber: "1", SenderType: domain.SenderContact}

	_, err := repo.InsertInboundMessage(ctx, in)
	require.NoError(t, err)
	_, err = repo.InsertInboundMessage(ctx, in)
	require.NoError(t, err)
}

func TestMessageRepo_OutboundLifecycle(t *testing.T) {
	repo := NewMessageGormRepository(setupTestDB(t))
	ctx := context.Background()

	msg, err := repo.InsertOutbound(ctx, "c1", domain.OutboundMessage{
		WorkspaceID: "ws1", InstanceName: "acme-1", PhoneNumber: "551100",
		MessageType: domain.MessageText, Content: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageSending, msg.Status)
	assert.Equal(t, domain.SenderAgent, msg.SenderType)
	assert.NotEmpty(t, msg.ConversationID)

	require.NoError(t, repo.FinalizeOutbound(ctx, msg.ID, domain.MessageSent, "BAE5XYZ"))
	got, err := repo.FindMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageSent, got.Status)
	require.NotNil(t, got.ExternalID)
	assert.Equal(t, "BAE5XYZ", *got.ExternalID)

	assert.Error(t, repo.FinalizeOutbound(ctx, "missing", domain.MessageFailed, ""))
}

func TestMessageRepo_FinalizeAbsorbsEcho(t *testing.T) {
	repo := NewMessageGormRepository(setupTestDB(t))
	ctx := context.Background()

	msg, err := repo.InsertOutbound(ctx, "c1", domain.OutboundMessage{
		WorkspaceID: "ws1", InstanceName: "acme-1", PhoneNumber: "551100",
		MessageType: domain.MessageText, Content: "hi",
	})
	require.NoError(t, err)
	echo, err := repo.InsertInboundMessage(ctx, domain.InboundMessage{
		ConnectionID: "c1", WorkspaceID: "ws1", ExternalID: "BAE5ECHO", PhoneNumber: "551100",
		SenderType: domain.SenderAgent, MessageType: domain.MessageText, Content: "hi", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, repo.FinalizeOutbound(ctx, msg.ID, domain.MessageSent, "BAE5ECHO"))

	got, err := repo.FindMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageSent, got.Status)
	require.NotNil(t, got.ExternalID)
	assert.Equal(t, "BAE5ECHO", *got.ExternalID)

	_, err = repo.FindMessage(ctx, echo.ID)
	assert.Error(t, err)
	n, err := repo.CountByExternalID(ctx, "c1", "BAE5ECHO")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMessageRepo_FinalizeKeepsContactRow(t *testing.T) {
	repo := NewMessageGormRepository(setupTestDB(t))
	ctx := context.Background()

	msg, err := repo.InsertOutbound(ctx, "c1", domain.OutboundMessage{
		WorkspaceID: "ws1", InstanceName: "acme-1", PhoneNumber: "551100",
		MessageType: domain.MessageText, Content: "hi",
	})
	require.NoError(t, err)
	contact, err := repo.InsertInboundMessage(ctx, domain.InboundMessage{
		ConnectionID: "c1", WorkspaceID: "ws1", ExternalID: "DUP1", PhoneNumber: "551100",
		SenderType: domain.SenderContact, MessageType: domain.MessageText, Content: "yo", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, repo.FinalizeOutbound(ctx, msg.ID, domain.MessageSent, "DUP1"))

	got, err := repo.FindMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageSent, got.Status)
	assert.Nil(t, got.ExternalID)
	_, err = repo.FindMessage(ctx, contact.ID)
	assert.NoError(t, err)
}
