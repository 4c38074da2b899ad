package application

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/integrations/automation"
	"github.com/AzielCF/az-connect/integrations/evolution"
	"github.com/AzielCF/az-connect/validations"
	"github.com/sirupsen/logrus"
)

const (
	PathAutomation = "automation"
	PathDirect     = "direct"

	finalizeTimeout = 5 * time.Second
)

// Attempt records one delivery path that was tried and why it failed.
type Attempt struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RoutingError is returned when every delivery path failed.
type RoutingError struct {
	MessageID string    `json:"message_id"`
	Attempts  []Attempt `json:"attempts"`
}

func (e *RoutingError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Path+": "+a.Reason)
	}
	return "message could not be delivered (" + strings.Join(parts, "; ") + ")"
}

func (e *RoutingError) ErrCode() string { return "ROUTING_FAILED" }
func (e *RoutingError) StatusCode() int { return http.StatusBadGateway }

type SendResult struct {
	MessageID  string               `json:"message_id"`
	Path       string               `json:"path"`
	Status     domain.MessageStatus `json:"status"`
	ExternalID string               `json:"external_id,omitempty"`
	Attempts   []Attempt            `json:"attempts,omitempty"`
}

// Router sends agent messages through the workspace automation when one is
// configured and falls back to the provider otherwise. There is no
// idempotency key, so a retried request can deliver twice.
type Router struct {
	conns      domain.ConnectionRepository
	messages   domain.MessageRepository
	workspaces domain.WorkspaceRepository
	provider   Provider
	automation AutomationClient
	now        func() time.Time
}

func NewRouter(
	conns domain.ConnectionRepository,
	messages domain.MessageRepository,
	workspaces domain.WorkspaceRepository,
	provider Provider,
	automation AutomationClient,
) *Router {
	return &Router{
		conns:      conns,
		messages:   messages,
		workspaces: workspaces,
		provider:   provider,
		automation: automation,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Router) Send(ctx context.Context, actor domain.Actor, out domain.OutboundMessage) (SendResult, error) {
	if err := requireActor(actor); err != nil {
		return SendResult{}, err
	}
	out.WorkspaceID = actor.WorkspaceID
	if out.MessageType == "" {
		out.MessageType = domain.MessageText
	}
	if err := validations.ValidateOutboundMessage(ctx, out); err != nil {
		return SendResult{}, err
	}

	conn, err := r.conns.FindByInstance(ctx, out.InstanceName)
	if err != nil {
		return SendResult{}, err
	}
	if !actor.Owns(conn) {
		return SendResult{}, domain.ErrConnectionNotFound
	}

	msg, err := r.messages.InsertOutbound(ctx, conn.ID, out)
	if err != nil {
		return SendResult{}, err
	}

	result := SendResult{MessageID: msg.ID}
	var attempts []Attempt

	target, err := r.workspaces.Automation(ctx, conn.WorkspaceID)
	if err != nil {
		logrus.WithError(err).Warnf("[ROUTER] cannot resolve automation for workspace %s", conn.WorkspaceID)
	}
	if err == nil && target.Enabled() && r.automation != nil {
		res, aerr := r.automation.Send(ctx, target, automation.OutboundPayload{
			Content:        out.Content,
			PhoneNumber:    out.PhoneNumber,
			Instance:       conn.InstanceName,
			MessageType:    string(out.MessageType),
			MediaURL:       out.MediaURL,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			WorkspaceID:    conn.WorkspaceID,
		})
		if aerr == nil {
			result.Path = PathAutomation
			result.ExternalID = res.ExternalID
			return r.finish(ctx, conn, result, attempts)
		}
		logrus.WithError(aerr).Warnf("[ROUTER] automation failed for %s, falling back to direct send", conn.InstanceName)
		attempts = append(attempts, Attempt{Path: PathAutomation, Reason: aerr.Error()})
	}

	sent, derr := r.sendDirect(ctx, conn.InstanceName, out)
	if derr == nil {
		result.Path = PathDirect
		result.ExternalID = sent.ExternalID
		return r.finish(ctx, conn, result, attempts)
	}
	attempts = append(attempts, Attempt{Path: PathDirect, Reason: derr.Error()})

	r.finalize(ctx, msg.ID, domain.MessageFailed, "")
	logrus.WithFields(logrus.Fields{
		"instance": conn.InstanceName,
		"message":  msg.ID,
		"attempts": len(attempts),
	}).Error("[ROUTER] message delivery failed")
	return SendResult{}, &RoutingError{MessageID: msg.ID, Attempts: attempts}
}

func (r *Router) sendDirect(ctx context.Context, instance string, out domain.OutboundMessage) (evolution.SendResult, error) {
	if out.MessageType == domain.MessageText {
		return r.provider.SendText(ctx, instance, out.PhoneNumber, out.Content)
	}
	return r.provider.SendMedia(ctx, instance, evolution.SendMediaRequest{
		Number:    out.PhoneNumber,
		MediaType: out.MessageType,
		MediaURL:  out.MediaURL,
		Caption:   out.Content,
		FileName:  out.FileName,
	})
}

func (r *Router) finish(ctx context.Context, conn domain.Connection, result SendResult, attempts []Attempt) (SendResult, error) {
	result.Status = domain.MessageSent
	result.Attempts = attempts
	r.finalize(ctx, result.MessageID, domain.MessageSent, result.ExternalID)
	if err := r.conns.TouchActivity(ctx, conn.InstanceName, r.now()); err != nil {
		logrus.WithError(err).Warnf("[ROUTER] failed to touch activity for %s", conn.InstanceName)
	}
	logrus.Infof("[ROUTER] message %s sent via %s on %s", result.MessageID, result.Path, conn.InstanceName)
	return result, nil
}

// finalize must run even when the caller went away, otherwise the row would
// stay in sending forever.
func (r *Router) finalize(ctx context.Context, messageID string, status domain.MessageStatus, externalID string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := r.messages.FinalizeOutbound(fctx, messageID, status, externalID); err != nil {
		logrus.WithError(err).Errorf("[ROUTER] failed to finalize message %s as %s", messageID, status)
	}
}
