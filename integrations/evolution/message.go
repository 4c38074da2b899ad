package evolution

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/AzielCF/az-connect/connection/domain"
)

var errEmptyNumber = errors.New("evolution: number is required")

type SendMediaRequest struct {
	Number    string
	MediaType domain.MessageType
	MediaURL  string
	Caption   string
	FileName  string
	MimeType  string
}

type SendResult struct {
	ExternalID string `json:"external_id,omitempty"`
	RemoteJID  string `json:"remote_jid,omitempty"`
	Status     string `json:"status,omitempty"`
}

func (c *Client) SendText(ctx context.Context, instance, number, text string) (SendResult, error) {
	if strings.TrimSpace(number) == "" {
		return SendResult{}, errEmptyNumber
	}
	res, err := c.do(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(instance), map[string]any{
		"number": number,
		"text":   text,
	})
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{
		ExternalID: firstString(res, "key.id", "messageId"),
		RemoteJID:  firstString(res, "key.remoteJid"),
		Status:     firstString(res, "status"),
	}, nil
}

func (c *Client) SendMedia(ctx context.Context, instance string, req SendMediaRequest) (SendResult, error) {
	if strings.TrimSpace(req.Number) == "" {
		return SendResult{}, errEmptyNumber
	}
	mediaType := string(req.MediaType)
	if req.MediaType == domain.MessageText || mediaType == "" {
		mediaType = string(domain.MessageDocument)
	}
	fileName := req.FileName
	if fileName == "" {
		if u, err := url.Parse(req.MediaURL); err == nil {
			fileName = path.Base(u.Path)
		}
	}

	body := map[string]any{
		"number":    req.Number,
		"mediatype": mediaType,
		"media":     req.MediaURL,
		"caption":   req.Caption,
		"fileName":  fileName,
	}
	if req.MimeType != "" {
		body["mimetype"] = req.MimeType
	}

	res, err := c.do(ctx, http.MethodPost, "/message/sendMedia/"+url.PathEscape(instance), body)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{
		ExternalID: firstString(res, "key.id", "messageId"),
		RemoteJID:  firstString(res, "key.remoteJid"),
		Status:     firstString(res, "status"),
	}, nil
}
