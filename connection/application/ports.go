package application

import (
	"context"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/integrations/automation"
	"github.com/AzielCF/az-connect/integrations/evolution"
	"github.com/AzielCF/az-connect/pkg/eventbroker"
	"github.com/AzielCF/az-connect/pkg/msgworker"
)

// Provider is the part of the Evolution client the services rely on.
type Provider interface {
	CreateInstance(ctx context.Context, req evolution.CreateInstanceRequest) (evolution.InstanceInfo, error)
	FetchInstances(ctx context.Context) ([]evolution.InstanceInfo, error)
	Connect(ctx context.Context, instance string) (evolution.QRCode, error)
	ConnectionState(ctx context.Context, instance string) (domain.Status, error)
	Restart(ctx context.Context, instance string) error
	Logout(ctx context.Context, instance string) error
	Delete(ctx context.Context, instance string) error
	SetWebhook(ctx context.Context, instance, webhookURL string, headers map[string]string, byEvents bool) error
	FindProfile(ctx context.Context, instance, number string) (evolution.Profile, error)
	SendText(ctx context.Context, instance, number, text string) (evolution.SendResult, error)
	SendMedia(ctx context.Context, instance string, req evolution.SendMediaRequest) (evolution.SendResult, error)
}

type Broadcaster interface {
	Broadcast(instance, name string, data any)
}

// Subscriber is what a reconcile session needs from the broker.
type Subscriber interface {
	Subscribe(instance string) *eventbroker.Subscription
	Unsubscribe(sub *eventbroker.Subscription)
}

type AutomationClient interface {
	Send(ctx context.Context, target domain.Automation, payload automation.OutboundPayload) (automation.Result, error)
	Forward(ctx context.Context, target domain.Automation, event, instance, workspaceID string, raw []byte) error
}

type Dispatcher interface {
	TryDispatch(job msgworker.Job) bool
}

// StatePayload is the data of a "state" event.
type StatePayload struct {
	Status      domain.Status `json:"status"`
	PhoneNumber string        `json:"phone_number,omitempty"`
	Source      string        `json:"source,omitempty"`
	Deleted     bool          `json:"deleted,omitempty"`
}

// QRPayload is the data of a "qrcode" event.
type QRPayload struct {
	QRCode      string `json:"qrcode"`
	Code        string `json:"code,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
}
