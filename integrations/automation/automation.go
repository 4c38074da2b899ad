// Package automation delivers events and outbound messages to a workspace's
// external automation webhook (typically an N8N flow).
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// NewClientWithHTTP lets callers plug their own transport.
func NewClientWithHTTP(hc *http.Client) *Client {
	return &Client{http: hc}
}

// OutboundPayload is the body POSTed for an outbound message.
type OutboundPayload struct {
	Content        string `json:"content"`
	PhoneNumber    string `json:"phone_number"`
	Instance       string `json:"instance"`
	MessageType    string `json:"message_type"`
	MediaURL       string `json:"media_url,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id"`
	WorkspaceID    string `json:"workspace_id"`
}

type Result struct {
	ExternalID string
}

// Send hands an outbound message to the automation. Any non-2xx status or a
// body carrying success:false is a failure.
func (c *Client) Send(ctx context.Context, target domain.Automation, payload OutboundPayload) (Result, error) {
	res, err := c.post(ctx, target, "message.outbound", payload)
	if err != nil {
		return Result{}, err
	}
	return Result{ExternalID: firstString(res, "external_id", "message_id", "key.id", "data.key.id")}, nil
}

// Forward relays a raw provider event. The payload is embedded untouched.
func (c *Client) Forward(ctx context.Context, target domain.Automation, event, instance, workspaceID string, raw []byte) error {
	body := map[string]any{
		"event":        event,
		"instance":     instance,
		"workspace_id": workspaceID,
		"payload":      json.RawMessage(raw),
	}
	_, err := c.post(ctx, target, event, body)
	return err
}

func (c *Client) post(ctx context.Context, target domain.Automation, event string, body any) (gjson.Result, error) {
	if !target.Enabled() {
		return gjson.Result{}, pkgError.WebhookError("automation webhook not configured")
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("automation: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(buf))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("automation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event", event)
	if target.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+target.Secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, pkgError.WebhookError(fmt.Sprintf("automation unreachable: %v", err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logrus.WithFields(logrus.Fields{
			"event":  event,
			"status": resp.StatusCode,
		}).Warn("[AUTOMATION] webhook answered with error status")
		return gjson.Result{}, pkgError.WebhookError(fmt.Sprintf("automation returned %d: %s", resp.StatusCode, snippet(raw)))
	}

	if !gjson.ValidBytes(raw) {
		// plain text 2xx bodies ("Workflow was started") are fine
		return gjson.Result{}, nil
	}
	res := gjson.ParseBytes(raw)
	if s := res.Get("success"); s.Exists() && s.Type == gjson.False {
		reason := firstString(res, "error", "message")
		if reason == "" {
			reason = "success=false"
		}
		return gjson.Result{}, pkgError.WebhookError("automation rejected: " + reason)
	}
	return res, nil
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() && v.String() != "" && v.Type != gjson.JSON {
			return v.String()
		}
	}
	return ""
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
