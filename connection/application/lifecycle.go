package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/integrations/evolution"
	"github.com/AzielCF/az-connect/pkg/crypto"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/AzielCF/az-connect/pkg/eventbroker"
	"github.com/AzielCF/az-connect/validations"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SecretHeader carries the per-channel secret on every provider webhook.
const SecretHeader = "X-Webhook-Secret"

const DefaultSecretGracePeriod = 24 * time.Hour

type LifecycleConfig struct {
	WebhookURL        string
	WebhookByEvents   bool
	SecretGracePeriod time.Duration
}

type LifecycleService struct {
	conns    domain.ConnectionRepository
	provider Provider
	broker   Broadcaster
	cfg      LifecycleConfig
	now      func() time.Time
}

func NewLifecycleService(conns domain.ConnectionRepository, provider Provider, broker Broadcaster, cfg LifecycleConfig) *LifecycleService {
	if cfg.SecretGracePeriod <= 0 {
		cfg.SecretGracePeriod = DefaultSecretGracePeriod
	}
	return &LifecycleService{
		conns:    conns,
		provider: provider,
		broker:   broker,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateResult holds the new connection and the plaintext webhook secret,
// which is only ever returned here.
type CreateResult struct {
	Connection    domain.Connection `json:"connection"`
	WebhookSecret string            `json:"webhook_secret"`
}

type QRResult struct {
	InstanceName string        `json:"instance_name"`
	Status       domain.Status `json:"status"`
	QRCode       string        `json:"qrcode,omitempty"`
	Code         string        `json:"code,omitempty"`
	PairingCode  string        `json:"pairing_code,omitempty"`
}

type ListResult struct {
	Connections []domain.Connection `json:"connections"`
	Quota       domain.Quota        `json:"quota"`
}

type Inspection struct {
	Connection domain.Connection       `json:"connection"`
	Remote     *evolution.InstanceInfo `json:"remote,omitempty"`
	Profile    *evolution.Profile      `json:"profile,omitempty"`
}

func (s *LifecycleService) Create(ctx context.Context, actor domain.Actor, req domain.CreateRequest) (CreateResult, error) {
	if err := requireActor(actor); err != nil {
		return CreateResult{}, err
	}
	req.InstanceName = strings.TrimSpace(req.InstanceName)
	if req.HistoryRecovery == "" {
		req.HistoryRecovery = domain.HistoryNone
	}
	if err := validations.ValidateCreateConnection(ctx, req); err != nil {
		return CreateResult{}, err
	}

	_, quota, err := s.conns.ListForWorkspace(ctx, actor.WorkspaceID)
	if err != nil {
		return CreateResult{}, fmt.Errorf("load quota: %w", err)
	}
	if quota.Exceeded() {
		return CreateResult{}, domain.ErrQuotaExceeded
	}

	if _, err := s.conns.FindByInstance(ctx, req.InstanceName); err == nil {
		return CreateResult{}, domain.ErrDuplicateInstance
	} else if !pkgError.IsNotFound(err) {
		return CreateResult{}, err
	}

	secret := newChannelSecret()
	info, err := s.provider.CreateInstance(ctx, evolution.CreateInstanceRequest{
		InstanceName:    req.InstanceName,
		HistoryRecovery: req.HistoryRecovery,
		WorkspaceID:     actor.WorkspaceID,
		WebhookURL:      s.cfg.WebhookURL,
		WebhookHeaders:  map[string]string{SecretHeader: secret},
		WebhookByEvents: s.cfg.WebhookByEvents,
	})
	if err != nil {
		return CreateResult{}, err
	}

	now := s.now()
	conn := domain.Connection{
		ID:              uuid.NewString(),
		InstanceName:    req.InstanceName,
		WorkspaceID:     actor.WorkspaceID,
		Status:          domain.StatusCreating,
		HistoryRecovery: req.HistoryRecovery,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	qr := qrPayload(info.QRCode)
	if qr.QRCode != "" || qr.PairingCode != "" {
		conn.Status = domain.StatusQR
		conn.QRCode = qr.QRCode
		conn.PairingCode = qr.PairingCode
	}

	if err := s.conns.Insert(ctx, conn, domain.ChannelSecret{
		InstanceName: conn.InstanceName,
		SecretHash:   crypto.HashSecret(secret),
	}); err != nil {
		// do not leave an orphan instance behind
		if delErr := s.provider.Delete(context.WithoutCancel(ctx), conn.InstanceName); delErr != nil {
			logrus.WithError(delErr).Errorf("[LIFECYCLE] failed to roll back remote instance %s", conn.InstanceName)
		}
		return CreateResult{}, fmt.Errorf("store connection: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"instance":  conn.InstanceName,
		"workspace": conn.WorkspaceID,
		"user":      actor.UserID,
		"status":    conn.Status,
	}).Info("[LIFECYCLE] connection created")

	s.broker.Broadcast(conn.InstanceName, eventbroker.EventState, StatePayload{Status: conn.Status, Source: "create"})
	if conn.Status == domain.StatusQR {
		s.broker.Broadcast(conn.InstanceName, eventbroker.EventQRCode, qr)
	}
	return CreateResult{Connection: conn, WebhookSecret: secret}, nil
}

// Status refreshes the connection from the provider. An instance the
// provider no longer knows is recorded as disconnected.
func (s *LifecycleService) Status(ctx context.Context, actor domain.Actor, id string) (domain.Connection, error) {
	conn, err := s.owned(ctx, actor, id)
	if err != nil {
		return domain.Connection{}, err
	}

	status, err := s.provider.ConnectionState(ctx, conn.InstanceName)
	if err != nil {
		if !evolution.IsNotFound(err) {
			return domain.Connection{}, err
		}
		status = domain.StatusDisconnected
	}

	update := domain.StatusUpdate{Status: status, At: s.now()}
	if status == domain.StatusConnected && conn.PhoneNumber == "" {
		if phone := s.resolvePhone(ctx, conn.InstanceName); phone != "" {
			update.PhoneNumber = &phone
		}
	}
	applied, err := s.conns.UpsertStatus(ctx, conn.InstanceName, update)
	if err != nil {
		return domain.Connection{}, err
	}
	if applied && status != conn.Status {
		s.broker.Broadcast(conn.InstanceName, eventbroker.EventState, StatePayload{Status: status, Source: "status"})
	}
	return s.conns.FindByID(ctx, conn.ID)
}

// QRCode fetches the current code. A provider 404 is returned as is and the
// stored code stays untouched.
func (s *LifecycleService) QRCode(ctx context.Context, actor domain.Actor, id string) (QRResult, error) {
	conn, err := s.owned(ctx, actor, id)
	if err != nil {
		return QRResult{}, err
	}

	q, err := s.provider.Connect(ctx, conn.InstanceName)
	if err != nil {
		return QRResult{}, err
	}

	res := QRResult{InstanceName: conn.InstanceName, Status: conn.Status}
	if q.Empty() {
		return res, nil
	}

	payload := qrPayload(q)
	applied, err := s.conns.SetQRCode(ctx, conn.InstanceName, domain.QRUpdate{
		QRCode:      payload.QRCode,
		PairingCode: payload.PairingCode,
		At:          s.now(),
	})
	if err != nil {
		return QRResult{}, err
	}
	if !applied {
		// connected in the meantime
		return res, nil
	}
	s.broker.Broadcast(conn.InstanceName, eventbroker.EventQRCode, payload)

	res.QRCode = payload.QRCode
	res.Code = payload.Code
	res.PairingCode = payload.PairingCode
	if conn.Status == domain.StatusCreating {
		res.Status = domain.StatusQR
	}
	return res, nil
}

func (s *LifecycleService) Reconnect(ctx context.Context, actor domain.Actor, id string) (domain.Connection, error) {
	conn, err := s.owned(ctx, actor, id)
	if err != nil {
		return domain.Connection{}, err
	}
	if err := s.provider.Restart(ctx, conn.InstanceName); err != nil {
		return domain.Connection{}, err
	}
	if conn.Status != domain.StatusConnected && domain.CanTransition(conn.Status, domain.StatusConnecting) {
		if err := s.setStatus(ctx, conn, domain.StatusConnecting, "reconnect"); err != nil {
			return domain.Connection{}, err
		}
	}
	return s.conns.FindByID(ctx, conn.ID)
}

// Pause logs the WhatsApp session out while keeping the instance.
func (s *LifecycleService) Pause(ctx context.Context, actor domain.Actor, id string) (domain.Connection, error) {
	conn, err := s.owned(ctx, actor, id)
	if err != nil {
		return domain.Connection{}, err
	}
	if err := s.provider.Logout(ctx, conn.InstanceName); err != nil && !evolution.IsNotFound(err) {
		return domain.Connection{}, err
	}
	if err := s.setStatus(ctx, conn, domain.StatusDisconnected, "pause"); err != nil {
		return domain.Connection{}, err
	}
	return s.conns.FindByID(ctx, conn.ID)
}

// Delete is a two phase teardown: the remote instance goes first and the
// local record is only removed once that succeeded or was moot. Deleting an
// unknown connection is a no-op.
func (s *LifecycleService) Delete(ctx context.Context, actor domain.Actor, id string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	conn, err := s.owned(ctx, actor, id)
	if err != nil {
		if errors.Is(err, domain.ErrConnectionNotFound) {
			return nil
		}
		return err
	}

	if err := s.deprovisionRemote(ctx, conn.InstanceName); err != nil {
		return err
	}
	return s.deleteLocal(ctx, conn)
}

func (s *LifecycleService) deprovisionRemote(ctx context.Context, instance string) error {
	if err := s.provider.Logout(ctx, instance); err != nil && !evolution.IsNotFound(err) {
		logrus.WithError(err).Warnf("[LIFECYCLE] logout before delete failed for %s", instance)
	}
	if err := s.provider.Delete(ctx, instance); err != nil {
		return fmt.Errorf("deprovision %s: %w", instance, err)
	}
	return nil
}

func (s *LifecycleService) deleteLocal(ctx context.Context, conn domain.Connection) error {
	if err := s.conns.Delete(ctx, conn.ID); err != nil {
		if errors.Is(err, domain.ErrConnectionNotFound) {
			return nil
		}
		return err
	}
	logrus.WithField("instance", conn.InstanceName).Info("[LIFECYCLE] connection deleted")
	s.broker.Broadcast(conn.InstanceName, eventbroker.EventState, StatePayload{
		Status:  domain.StatusDisconnected,
		Source:  "delete",
		Deleted: true,
	})
	return nil
}

func (s *LifecycleService) List(ctx context.Context, actor domain.Actor) (ListResult, error) {
	if err := requireActor(actor); err != nil {
		return ListResult{}, err
	}
	conns, quota, err := s.conns.ListForWorkspace(ctx, actor.WorkspaceID)
	if err != nil {
		return ListResult{}, err
	}
	if conns == nil {
		conns = []domain.Connection{}
	}
	return ListResult{Connections: conns, Quota: quota}, nil
}

func (s *LifecycleService) Get(ctx context.Context, actor domain.Actor, id string) (domain.Connection, error) {
	return s.owned(ctx, actor, id)
}

// GetByInstance resolves an instance name for the actor, used by the live
// event streams.
func (s *LifecycleService) GetByInstance(ctx context.Context, actor domain.Actor, instance string) (domain.Connection, error) {
	if err := requireActor(actor); err != nil {
		return domain.Connection{}, err
	}
	conn, err := s.conns.FindByInstance(ctx, instance)
	if err != nil {
		return domain.Connection{}, err
	}
	if !actor.Owns(conn) {
		return domain.Connection{}, domain.ErrConnectionNotFound
	}
	return conn, nil
}

// RotateSecret issues a new webhook secret. The previous one stays valid for
// SecretGracePeriod so deliveries already in flight still authenticate.
func (s *LifecycleService) RotateSecret(ctx context.Context, actor domain.Actor, id string) (string, error) {
	conn, err := s.owned(ctx, actor, id)
	if err != nil {
		return "", err
	}

	secret := newChannelSecret()
	graceUntil := s.now().Add(s.cfg.SecretGracePeriod)
	if err := s.conns.RotateChannelSecret(ctx, conn.InstanceName, secret, graceUntil); err != nil {
		return "", err
	}
	if err := s.provider.SetWebhook(ctx, conn.InstanceName, s.cfg.WebhookURL, map[string]string{SecretHeader: secret}, s.cfg.WebhookByEvents); err != nil {
		return "", fmt.Errorf("register rotated secret with provider (previous secret valid until %s): %w",
			graceUntil.Format(time.RFC3339), err)
	}
	logrus.WithField("instance", conn.InstanceName).Info("[LIFECYCLE] webhook secret rotated")
	return secret, nil
}

// Inspect combines the local record with what the provider reports.
func (s *LifecycleService) Inspect(ctx context.Context, actor domain.Actor, id string) (Inspection, error) {
	conn, err := s.owned(ctx, actor, id)
	if err != nil {
		return Inspection{}, err
	}
	out := Inspection{Connection: conn}

	instances, err := s.provider.FetchInstances(ctx)
	if err != nil {
		return Inspection{}, err
	}
	for i := range instances {
		if instances[i].InstanceName == conn.InstanceName {
			out.Remote = &instances[i]
			break
		}
	}

	number := conn.PhoneNumber
	if number == "" && out.Remote != nil {
		number = phoneFromJID(out.Remote.Owner)
	}
	if number != "" {
		profile, err := s.provider.FindProfile(ctx, conn.InstanceName, number)
		if err != nil {
			logrus.WithError(err).Debugf("[LIFECYCLE] profile lookup failed for %s", conn.InstanceName)
		} else {
			out.Profile = &profile
		}
	}
	return out, nil
}

func (s *LifecycleService) setStatus(ctx context.Context, conn domain.Connection, status domain.Status, source string) error {
	applied, err := s.conns.UpsertStatus(ctx, conn.InstanceName, domain.StatusUpdate{Status: status, At: s.now()})
	if err != nil {
		return err
	}
	if applied {
		s.broker.Broadcast(conn.InstanceName, eventbroker.EventState, StatePayload{Status: status, Source: source})
	}
	return nil
}

func (s *LifecycleService) resolvePhone(ctx context.Context, instance string) string {
	instances, err := s.provider.FetchInstances(ctx)
	if err != nil {
		logrus.WithError(err).Debugf("[LIFECYCLE] cannot resolve phone for %s", instance)
		return ""
	}
	for _, in := range instances {
		if in.InstanceName == instance {
			return phoneFromJID(in.Owner)
		}
	}
	return ""
}

// owned loads a connection and hides connections of other workspaces.
func (s *LifecycleService) owned(ctx context.Context, actor domain.Actor, id string) (domain.Connection, error) {
	if err := requireActor(actor); err != nil {
		return domain.Connection{}, err
	}
	conn, err := s.conns.FindByID(ctx, id)
	if err != nil {
		return domain.Connection{}, err
	}
	if !actor.Owns(conn) {
		return domain.Connection{}, domain.ErrConnectionNotFound
	}
	return conn, nil
}

func requireActor(actor domain.Actor) error {
	if actor.WorkspaceID == "" {
		return pkgError.UnauthorizedError("workspace context is required")
	}
	return nil
}

func newChannelSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// phoneFromJID turns "5511999999999:12@s.whatsapp.net" into "5511999999999".
func phoneFromJID(jid string) string {
	if jid == "" {
		return ""
	}
	user := jid
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user
}
