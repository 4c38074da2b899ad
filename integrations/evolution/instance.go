package evolution

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/AzielCF/az-connect/connection/domain"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/tidwall/gjson"
)

var instanceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// DefaultEvents are the webhook events we register for every instance.
var DefaultEvents = []string{"QRCODE_UPDATED", "CONNECTION_UPDATE", "MESSAGES_UPSERT", "MESSAGES_SET"}

type CreateInstanceRequest struct {
	InstanceName    string
	HistoryRecovery domain.HistoryRecovery
	WorkspaceID     string
	WebhookURL      string
	WebhookHeaders  map[string]string
	WebhookByEvents bool
}

type InstanceInfo struct {
	InstanceName string `json:"instance_name"`
	InstanceID   string `json:"instance_id,omitempty"`
	State        string `json:"state,omitempty"`
	Owner        string `json:"owner,omitempty"`
	ProfileName  string `json:"profile_name,omitempty"`
	QRCode       QRCode `json:"qrcode"`
}

// QRCode is the current code only; the provider gives no freshness guarantee.
type QRCode struct {
	Code        string `json:"code,omitempty"`
	Base64      string `json:"base64,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
}

func (q QRCode) Empty() bool {
	return q.Code == "" && q.Base64 == "" && q.PairingCode == ""
}

type Profile struct {
	WUID    string `json:"wuid,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Status  string `json:"status,omitempty"`
}

// ValidateInstanceName rejects names the provider would refuse, before any request.
func ValidateInstanceName(name string) error {
	err := validation.Validate(name,
		validation.Required,
		validation.Length(3, 64),
		validation.Match(instanceNamePattern).Error("must contain only letters, digits, '-' or '_'"),
	)
	if err != nil {
		return pkgError.InvalidArgumentError("instance_name: " + err.Error())
	}
	return nil
}

func (c *Client) CreateInstance(ctx context.Context, req CreateInstanceRequest) (InstanceInfo, error) {
	if err := ValidateInstanceName(req.InstanceName); err != nil {
		return InstanceInfo{}, err
	}

	body := map[string]any{
		"instanceName":    req.InstanceName,
		"integration":     "WHATSAPP-BAILEYS",
		"qrcode":          true,
		// Evolution has no sync window, only full history on or off. The
		// window itself is applied when the history webhooks arrive.
		"syncFullHistory": req.HistoryRecovery.Days() > 0,
	}
	if req.WebhookURL != "" {
		body["webhook"] = map[string]any{
			"enabled":  true,
			"url":      req.WebhookURL,
			"byEvents": req.WebhookByEvents,
			"base64":   true,
			"headers":  req.WebhookHeaders,
			"events":   DefaultEvents,
		}
	}

	res, err := c.do(ctx, http.MethodPost, "/instance/create", body)
	if err != nil {
		return InstanceInfo{}, err
	}

	info := InstanceInfo{
		InstanceName: firstString(res, "instance.instanceName", "instanceName"),
		InstanceID:   firstString(res, "instance.instanceId", "instance.id", "instanceId"),
		State:        firstString(res, "instance.status", "instance.state", "state"),
		QRCode:       parseQRCode(res.Get("qrcode")),
	}
	if info.InstanceName == "" {
		info.InstanceName = req.InstanceName
	}
	return info, nil
}

func (c *Client) FetchInstances(ctx context.Context) ([]InstanceInfo, error) {
	res, err := c.do(ctx, http.MethodGet, "/instance/fetchInstances", nil)
	if err != nil {
		return nil, err
	}
	out := make([]InstanceInfo, 0)
	res.ForEach(func(_, item gjson.Result) bool {
		// v1 nests everything under "instance"
		if inner := item.Get("instance"); inner.IsObject() {
			item = inner
		}
		out = append(out, InstanceInfo{
			InstanceName: firstString(item, "name", "instanceName"),
			InstanceID:   firstString(item, "id", "instanceId"),
			State:        firstString(item, "connectionStatus", "status", "state"),
			Owner:        firstString(item, "ownerJid", "owner"),
			ProfileName:  firstString(item, "profileName"),
		})
		return true
	})
	return out, nil
}

// Connect asks the provider for the current QR of an instance.
func (c *Client) Connect(ctx context.Context, instance string) (QRCode, error) {
	res, err := c.do(ctx, http.MethodGet, "/instance/connect/"+url.PathEscape(instance), nil)
	if err != nil {
		return QRCode{}, err
	}
	return parseQRCode(res), nil
}

// ConnectionState maps the provider state onto a local status.
func (c *Client) ConnectionState(ctx context.Context, instance string) (domain.Status, error) {
	res, err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(instance), nil)
	if err != nil {
		return "", err
	}
	return domain.StatusFromProviderState(firstString(res, "instance.state", "state")), nil
}

// Restart is idempotent: an instance that is already connected counts as restarted.
func (c *Client) Restart(ctx context.Context, instance string) error {
	_, err := c.do(ctx, http.MethodPut, "/instance/restart/"+url.PathEscape(instance), nil)
	if isAlreadyInState(err) {
		return nil
	}
	return err
}

// Logout pauses the instance. Logging out a session that is not connected is a no-op.
func (c *Client) Logout(ctx context.Context, instance string) error {
	_, err := c.do(ctx, http.MethodDelete, "/instance/logout/"+url.PathEscape(instance), nil)
	if isAlreadyInState(err) {
		return nil
	}
	return err
}

// Delete removes the remote instance. A 404 means it is already gone.
func (c *Client) Delete(ctx context.Context, instance string) error {
	_, err := c.do(ctx, http.MethodDelete, "/instance/delete/"+url.PathEscape(instance), nil)
	if err != nil && pkgError.IsNotFound(err) {
		return nil
	}
	return err
}

// SetWebhook re-registers our webhook for an existing instance, used after a
// secret rotation.
func (c *Client) SetWebhook(ctx context.Context, instance, webhookURL string, headers map[string]string, byEvents bool) error {
	_, err := c.do(ctx, http.MethodPost, "/webhook/set/"+url.PathEscape(instance), map[string]any{
		"webhook": map[string]any{
			"enabled":  true,
			"url":      webhookURL,
			"byEvents": byEvents,
			"base64":   true,
			"headers":  headers,
			"events":   DefaultEvents,
		},
	})
	return err
}

func (c *Client) FindProfile(ctx context.Context, instance, number string) (Profile, error) {
	res, err := c.do(ctx, http.MethodPost, "/chat/findProfile/"+url.PathEscape(instance), map[string]any{"number": number})
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		WUID:    firstString(res, "wuid", "jid"),
		Name:    firstString(res, "name", "pushName"),
		Picture: firstString(res, "picture", "profilePictureUrl"),
		Status:  firstString(res, "status.status", "status"),
	}, nil
}

func isAlreadyInState(err error) bool {
	if err == nil {
		return false
	}
	pe, ok := AsProviderError(err)
	if !ok || pe.Status >= 500 || pe.Status == http.StatusNotFound {
		return false
	}
	msg := strings.ToLower(pe.Message)
	return strings.Contains(msg, "not connected") || strings.Contains(msg, "already")
}

func parseQRCode(res gjson.Result) QRCode {
	return QRCode{
		Code:        firstString(res, "code", "qrcode.code"),
		Base64:      firstString(res, "base64", "qrcode.base64"),
		PairingCode: firstString(res, "pairingCode", "qrcode.pairingCode"),
	}
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		v := res.Get(p)
		if v.Exists() && v.Type != gjson.Null && v.Type != gjson.JSON {
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

// IsNotFound reports whether err means the provider does not know the instance.
func IsNotFound(err error) bool {
	return err != nil && pkgError.IsNotFound(err)
}
