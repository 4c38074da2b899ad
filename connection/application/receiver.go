package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/integrations/evolution"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/AzielCF/az-connect/pkg/eventbroker"
	"github.com/AzielCF/az-connect/pkg/msgworker"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	EventQRCodeUpdated    = "QRCODE_UPDATED"
	EventConnectionUpdate = "CONNECTION_UPDATE"
	EventMessagesUpsert   = "MESSAGES_UPSERT"
	EventMessagesSet      = "MESSAGES_SET"

	forwardTimeout = 15 * time.Second
)

// WebhookRequest is one provider callback as seen by the HTTP layer.
type WebhookRequest struct {
	Secret    string
	Body      []byte
	PathEvent string
}

// Ack is the structured acknowledgment returned to the provider.
type Ack struct {
	Success    bool   `json:"success"`
	Event      string `json:"event,omitempty"`
	Instance   string `json:"instance,omitempty"`
	Duplicates int    `json:"duplicates,omitempty"`
	Stored     int    `json:"stored,omitempty"`
	Skipped    int    `json:"skipped,omitempty"`
	Warning    string `json:"warning,omitempty"`
}

func (a *Ack) warn(msg string) {
	if a.Warning == "" {
		a.Warning = msg
		return
	}
	a.Warning += "; " + msg
}

type Receiver struct {
	conns      domain.ConnectionRepository
	messages   domain.MessageRepository
	workspaces domain.WorkspaceRepository
	dedup      domain.DedupStore
	broker     Broadcaster
	automation AutomationClient
	pool       Dispatcher
	now        func() time.Time
}

func NewReceiver(
	conns domain.ConnectionRepository,
	messages domain.MessageRepository,
	workspaces domain.WorkspaceRepository,
	dedup domain.DedupStore,
	broker Broadcaster,
	automation AutomationClient,
	pool Dispatcher,
) *Receiver {
	return &Receiver{
		conns:      conns,
		messages:   messages,
		workspaces: workspaces,
		dedup:      dedup,
		broker:     broker,
		automation: automation,
		pool:       pool,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one callback. Only a malformed body or a failed
// authentication produce an error; recoverable internal failures are
// reported as warnings on a successful Ack.
func (r *Receiver) Handle(ctx context.Context, req WebhookRequest) (Ack, error) {
	body := req.Body
	if len(strings.TrimSpace(string(body))) == 0 {
		return Ack{Success: true}, nil
	}
	if !gjson.ValidBytes(body) {
		return Ack{}, pkgError.ValidationError("malformed JSON body")
	}

	channel, err := r.conns.FindChannelBySecret(ctx, req.Secret, r.now())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSecret) {
			return Ack{}, err
		}
		return Ack{}, fmt.Errorf("authenticate webhook: %w", err)
	}

	payload := gjson.ParseBytes(body)
	if claimed := stringAt(payload, "instance", "instanceName", "instance.instanceName"); claimed != "" && claimed != channel.InstanceName {
		logrus.WithFields(logrus.Fields{
			"claimed": claimed,
			"channel": channel.InstanceName,
		}).Warn("[WEBHOOK] instance does not match the authenticated channel")
		return Ack{}, pkgError.UnauthorizedError("secret does not belong to this instance")
	}

	event := NormalizeEvent(stringAt(payload, "event"))
	if event == "" {
		event = NormalizeEvent(req.PathEvent)
	}
	ack := Ack{Success: true, Event: event, Instance: channel.InstanceName}

	conn, err := r.conns.FindByInstance(ctx, channel.InstanceName)
	if err != nil {
		logrus.WithError(err).Warnf("[WEBHOOK] no connection for channel %s", channel.InstanceName)
		ack.warn("connection not found")
		return ack, nil
	}

	data := payload.Get("data")
	forward := true
	switch {
	case event == EventQRCodeUpdated:
		r.handleQRCode(ctx, conn, data, &ack)
	case event == EventConnectionUpdate || data.Get("state").Exists():
		r.handleConnectionUpdate(ctx, conn, data, &ack)
	case event == EventMessagesUpsert:
		forward = r.handleMessages(ctx, conn, data, false, &ack)
	case event == EventMessagesSet:
		// history sync after pairing; stored but never forwarded
		r.handleMessages(ctx, conn, data, true, &ack)
		forward = false
	default:
		logrus.Debugf("[WEBHOOK] ignoring event %q for %s", event, conn.InstanceName)
	}

	if forward {
		r.forward(ctx, conn, event, forwardKey(event, data), body, &ack)
	}
	return ack, nil
}

func (r *Receiver) handleQRCode(ctx context.Context, conn domain.Connection, data gjson.Result, ack *Ack) {
	if !conn.Status.AcceptsQR() {
		return
	}
	q := evolution.QRCode{
		Code:        stringAt(data, "qrcode.code", "code"),
		Base64:      stringAt(data, "qrcode.base64", "base64"),
		PairingCode: stringAt(data, "pairingCode", "qrcode.pairingCode"),
	}
	if q.Empty() {
		return
	}
	payload := qrPayload(q)
	applied, err := r.conns.SetQRCode(ctx, conn.InstanceName, domain.QRUpdate{
		QRCode:      payload.QRCode,
		PairingCode: payload.PairingCode,
		At:          r.now(),
	})
	if err != nil {
		logrus.WithError(err).Errorf("[WEBHOOK] failed to store QR for %s", conn.InstanceName)
		ack.warn("qr not stored")
	}
	if err == nil && !applied {
		return
	}
	r.broker.Broadcast(conn.InstanceName, eventbroker.EventQRCode, payload)
}

func (r *Receiver) handleConnectionUpdate(ctx context.Context, conn domain.Connection, data gjson.Result, ack *Ack) {
	status := domain.StatusFromProviderState(stringAt(data, "state"))
	now := r.now()
	update := domain.StatusUpdate{Status: status, At: now}

	var phone string
	if status == domain.StatusConnected {
		phone = phoneFromJID(stringAt(data, "wuid", "owner", "ownerJid"))
		if phone != "" {
			update.PhoneNumber = &phone
		}
	}

	applied, err := r.conns.UpsertStatus(ctx, conn.InstanceName, update)
	if err != nil {
		logrus.WithError(err).Errorf("[WEBHOOK] failed to persist status for %s", conn.InstanceName)
		ack.warn("status not stored")
		return
	}
	if !applied {
		logrus.Debugf("[WEBHOOK] stale status %s for %s ignored", status, conn.InstanceName)
		return
	}
	if err := r.conns.TouchActivity(ctx, conn.InstanceName, now); err != nil {
		logrus.WithError(err).Warnf("[WEBHOOK] failed to touch activity for %s", conn.InstanceName)
	}

	logrus.WithFields(logrus.Fields{
		"instance": conn.InstanceName,
		"status":   status,
	}).Info("[WEBHOOK] connection state updated")
	r.broker.Broadcast(conn.InstanceName, eventbroker.EventState, StatePayload{Status: status, PhoneNumber: phone, Source: "webhook"})
}

// handleMessages stores every message of the event and reports whether at
// least one was new, which is what decides forwarding. Messages older than
// the connection's history window are skipped; the provider can only turn
// full history on or off, so the window is enforced here.
func (r *Receiver) handleMessages(ctx context.Context, conn domain.Connection, data gjson.Result, history bool, ack *Ack) bool {
	items := messageItems(data)
	if len(items) == 0 {
		return false
	}

	now := r.now()
	days := conn.HistoryRecovery.Days()
	cutoff := now.AddDate(0, 0, -days)

	fresh := 0
	for _, item := range items {
		in, ok := parseInbound(item, now)
		if !ok {
			continue
		}
		if (history || days > 0) && in.Timestamp.Before(cutoff) {
			ack.Skipped++
			continue
		}
		in.ConnectionID = conn.ID
		in.WorkspaceID = conn.WorkspaceID

		if in.ExternalID != "" && r.dedup != nil {
			seen, err := r.dedup.Seen(ctx, conn.InstanceName, in.ExternalID)
			if err != nil {
				logrus.WithError(err).Warn("[WEBHOOK] dedup store unavailable, relying on the database")
			} else if seen {
				ack.Duplicates++
				continue
			}
		}

		msg, err := r.messages.InsertInboundMessage(ctx, in)
		if errors.Is(err, domain.ErrDuplicateMessage) {
			ack.Duplicates++
			continue
		}
		if err != nil {
			logrus.WithError(err).Errorf("[WEBHOOK] failed to store message %s for %s", in.ExternalID, conn.InstanceName)
			ack.warn("message not stored")
			if in.ExternalID != "" && r.dedup != nil {
				_ = r.dedup.Forget(ctx, conn.InstanceName, in.ExternalID)
			}
			continue
		}

		fresh++
		ack.Stored++
		r.broker.Broadcast(conn.InstanceName, eventbroker.EventMessage, msg)
	}

	if fresh > 0 {
		if err := r.conns.TouchActivity(ctx, conn.InstanceName, r.now()); err != nil {
			logrus.WithError(err).Warnf("[WEBHOOK] failed to touch activity for %s", conn.InstanceName)
		}
	}
	return fresh > 0
}

// forward hands the raw event to the workspace automation through the worker
// pool so per-chat ordering holds. Failures are only logged.
func (r *Receiver) forward(ctx context.Context, conn domain.Connection, event, key string, body []byte, ack *Ack) {
	if r.automation == nil || r.pool == nil {
		return
	}
	target, err := r.workspaces.Automation(ctx, conn.WorkspaceID)
	if err != nil {
		logrus.WithError(err).Warnf("[WEBHOOK] cannot resolve automation for workspace %s", conn.WorkspaceID)
		ack.warn("automation lookup failed")
		return
	}
	if !target.Enabled() {
		return
	}

	raw := append([]byte(nil), body...)
	accepted := r.pool.TryDispatch(msgworker.Job{
		Connection: conn.InstanceName,
		Key:        key,
		Handler: func(workerCtx context.Context) error {
			fctx, cancel := context.WithTimeout(workerCtx, forwardTimeout)
			defer cancel()
			if err := r.automation.Forward(fctx, target, event, conn.InstanceName, conn.WorkspaceID, raw); err != nil {
				return fmt.Errorf("forward %s for %s: %w", event, conn.InstanceName, err)
			}
			return nil
		},
	})
	if !accepted {
		ack.warn("forward queue full")
	}
}

// NormalizeEvent maps "qrcode.updated", "qrcode-updated" and "QRCODE_UPDATED"
// onto the same name.
func NormalizeEvent(event string) string {
	event = strings.TrimSpace(strings.Trim(event, "/"))
	event = strings.NewReplacer(".", "_", "-", "_").Replace(event)
	return strings.ToUpper(event)
}

func messageItems(data gjson.Result) []gjson.Result {
	switch {
	case data.IsArray():
		return data.Array()
	case data.Get("messages").IsArray():
		return data.Get("messages").Array()
	case data.IsObject():
		return []gjson.Result{data}
	}
	return nil
}

func parseInbound(item gjson.Result, now time.Time) (domain.InboundMessage, bool) {
	remote := stringAt(item, "key.remoteJid")
	if remote == "" || remote == "status@broadcast" || strings.HasSuffix(remote, "@g.us") {
		return domain.InboundMessage{}, false
	}
	// LID addressed chats carry the phone number in an alternate field
	if strings.HasSuffix(remote, "@lid") {
		if alt := stringAt(item, "key.remoteJidAlt", "key.senderPn"); alt != "" {
			remote = alt
		}
	}

	in := domain.InboundMessage{
		ExternalID:  stringAt(item, "key.id"),
		PhoneNumber: phoneFromJID(remote),
		PushName:    stringAt(item, "pushName"),
		SenderType:  domain.SenderContact,
		Timestamp:   now,
	}
	if item.Get("key.fromMe").Bool() {
		in.SenderType = domain.SenderAgent
	}
	if ts := item.Get("messageTimestamp").Int(); ts > 0 {
		in.Timestamp = time.Unix(ts, 0).UTC()
	}

	msg := item.Get("message")
	if msg.Get("reactionMessage").Exists() || msg.Get("protocolMessage").Exists() {
		// reactions, edits and revokes refer to another message; nothing to store
		return domain.InboundMessage{}, false
	}
	switch {
	case msg.Get("imageMessage").Exists():
		in.MessageType = domain.MessageImage
		in.Content = stringAt(msg, "imageMessage.caption")
		in.MediaURL = stringAt(msg, "imageMessage.url", "mediaUrl")
	case msg.Get("stickerMessage").Exists():
		in.MessageType = domain.MessageImage
		in.MediaURL = stringAt(msg, "stickerMessage.url", "mediaUrl")
	case msg.Get("videoMessage").Exists():
		in.MessageType = domain.MessageVideo
		in.Content = stringAt(msg, "videoMessage.caption")
		in.MediaURL = stringAt(msg, "videoMessage.url", "mediaUrl")
	case msg.Get("audioMessage").Exists():
		in.MessageType = domain.MessageAudio
		in.MediaURL = stringAt(msg, "audioMessage.url", "mediaUrl")
	case msg.Get("documentMessage").Exists() || msg.Get("documentWithCaptionMessage").Exists():
		in.MessageType = domain.MessageDocument
		in.Content = stringAt(msg, "documentMessage.caption", "documentMessage.fileName",
			"documentWithCaptionMessage.message.documentMessage.caption")
		in.MediaURL = stringAt(msg, "documentMessage.url", "mediaUrl")
	default:
		in.MessageType = domain.MessageText
		in.Content = stringAt(msg, "conversation", "extendedTextMessage.text")
		if in.Content == "" {
			return domain.InboundMessage{}, false
		}
	}
	if in.MediaURL == "" {
		in.MediaURL = stringAt(item, "mediaUrl")
	}
	return in, true
}

// forwardKey shards forwards by chat so a conversation stays ordered.
func forwardKey(event string, data gjson.Result) string {
	if remote := stringAt(data, "key.remoteJid", "messages.0.key.remoteJid", "0.key.remoteJid"); remote != "" {
		return phoneFromJID(remote)
	}
	return event
}

func stringAt(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		v := res.Get(p)
		if v.Exists() && v.Type != gjson.Null && v.Type != gjson.JSON {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}
