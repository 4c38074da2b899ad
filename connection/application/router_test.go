package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/integrations/evolution"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(env *testEnv, auto AutomationClient) *Router {
	return NewRouter(env.conns, env.messages, env.workspaces, env.provider, auto)
}

func textMessage(instance string) domain.OutboundMessage {
	return domain.OutboundMessage{
		InstanceName: instance,
		PhoneNumber:  "5511988887777",
		MessageType:  domain.MessageText,
		Content:      "hello",
	}
}

func withAutomation(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.workspaces.Create(ctx, domain.Workspace{ID: "ws-a", Name: "A"}))
	require.NoError(t, env.workspaces.UpdateAutomation(ctx, "ws-a", domain.Automation{URL: "https://n8n.example.com/out", Secret: "tok"}))
}

func TestRouter_DirectWithoutAutomation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusConnected)
	auto := newFakeAutomation()

	res, err := newRouter(env, auto).Send(context.Background(), actorA, textMessage("acme-1"))
	require.NoError(t, err)
	assert.Equal(t, PathDirect, res.Path)
	assert.Equal(t, "EXT-TEXT", res.ExternalID)
	assert.Empty(t, auto.sent)
	assert.Equal(t, 1, env.provider.Calls("sendText"))

	msg, err := env.messages.FindMessage(context.Background(), res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageSent, msg.Status)
	require.NotNil(t, msg.ExternalID)
	assert.Equal(t, "EXT-TEXT", *msg.ExternalID)
	assert.Equal(t, domain.SenderAgent, msg.SenderType)
}

func TestRouter_SendAfterEchoArrived(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusConnected)
	ctx := context.Background()

	// The provider's MESSAGES_UPSERT for our own send lands before the send call returns.
	_, err := env.messages.InsertInboundMessage(ctx, domain.InboundMessage{
		ConnectionID: "id-acme-1",
		WorkspaceID:  "ws-a",
		ExternalID:   "EXT-TEXT",
		PhoneNumber:  "5511988887777",
		SenderType:   domain.SenderAgent,
		MessageType:  domain.MessageText,
		Content:      "hello",
		Timestamp:    time.Now().UTC(),
	})
	require.NoError(t, err)

	res, err := newRouter(env, nil).Send(ctx, actorA, textMessage("acme-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageSent, res.Status)

	msg, err := env.messages.FindMessage(ctx, res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageSent, msg.Status)
	require.NotNil(t, msg.ExternalID)
	assert.Equal(t, "EXT-TEXT", *msg.ExternalID)

	n, err := env.messages.CountByExternalID(ctx, "id-acme-1", "EXT-TEXT")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRouter_AutomationSuccess(t *testing.T) {
	env := newTestEnv(t)
	withAutomation(t, env)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusConnected)
	auto := newFakeAutomation()

	res, err := newRouter(env, auto).Send(context.Background(), actorA, textMessage("acme-1"))
	require.NoError(t, err)
	assert.Equal(t, PathAutomation, res.Path)
	assert.Zero(t, env.provider.Calls("sendText"))

	require.Len(t, auto.sent, 1)
	payload := auto.sent[0]
	assert.Equal(t, "acme-1", payload.Instance)
	assert.Equal(t, res.MessageID, payload.MessageID)
	assert.Equal(t, "ws-a", payload.WorkspaceID)
	assert.Equal(t, "text", payload.MessageType)
	assert.NotEmpty(t, payload.ConversationID)
}

func TestRouter_FallsBackWhenAutomationFails(t *testing.T) {
	env := newTestEnv(t)
	withAutomation(t, env)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusConnected)
	auto := newFakeAutomation()
	auto.sendErr = pkgError.WebhookError("automation returned 500")

	res, err := newRouter(env, auto).Send(context.Background(), actorA, textMessage("acme-1"))
	require.NoError(t, err)
	assert.Equal(t, PathDirect, res.Path)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, PathAutomation, res.Attempts[0].Path)
	assert.Equal(t, 1, env.provider.Calls("sendText"))
}

func TestRouter_BothPathsFail(t *testing.T) {
	env := newTestEnv(t)
	withAutomation(t, env)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusConnected)
	auto := newFakeAutomation()
	auto.sendErr = pkgError.WebhookError("automation returned 500")
	env.provider.textFn = func(string, string, string) (evolution.SendResult, error) {
		return evolution.SendResult{}, pkgError.ProviderUnavailableError("down")
	}

	_, err := newRouter(env, auto).Send(context.Background(), actorA, textMessage("acme-1"))
	var rerr *RoutingError
	require.True(t, errors.As(err, &rerr))
	require.Len(t, rerr.Attempts, 2)
	assert.Equal(t, PathAutomation, rerr.Attempts[0].Path)
	assert.Equal(t, PathDirect, rerr.Attempts[1].Path)
	assert.Equal(t, 502, rerr.StatusCode())

	msg, err := env.messages.FindMessage(context.Background(), rerr.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageFailed, msg.Status)
}

func TestRouter_MediaGoesThroughSendMedia(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusConnected)

	var got evolution.SendMediaRequest
	env.provider.mediaFn = func(_ string, req evolution.SendMediaRequest) (evolution.SendResult, error) {
		got = req
		return evolution.SendResult{ExternalID: "EXT-MEDIA"}, nil
	}
	out := domain.OutboundMessage{
		InstanceName: "acme-1",
		PhoneNumber:  "5511988887777",
		MessageType:  domain.MessageImage,
		Content:      "caption",
		MediaURL:     "https://cdn.example.com/pic.jpg",
	}

	res, err := newRouter(env, nil).Send(context.Background(), actorA, out)
	require.NoError(t, err)
	assert.Equal(t, "EXT-MEDIA", res.ExternalID)
	assert.Equal(t, domain.MessageImage, got.MediaType)
	assert.Equal(t, "caption", got.Caption)
}

func TestRouter_ValidationAndOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "other-1", "ws-b", "s1", domain.StatusConnected)
	r := newRouter(env, nil)

	bad := textMessage("other-1")
	bad.PhoneNumber = "abc"
	_, err := r.Send(context.Background(), actorA, bad)
	var verr pkgError.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = r.Send(context.Background(), actorA, textMessage("other-1"))
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
	assert.Zero(t, env.provider.Calls("sendText"))
}
