// Package evolution is a typed client for the Evolution API gateway.
package evolution

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

type Config struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	InsecureSkipVerify bool
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// Client is stateless; every call is one request/response pair.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		hc = &http.Client{Timeout: timeout, Transport: transport}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    hc,
	}
}

// ProviderError is the structured form of a non-2xx answer or a transport
// failure. It unwraps to the taxonomy error in pkg/error.
type ProviderError struct {
	Status  int
	Message string
	kind    error
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("evolution: %s", e.Message)
	}
	return fmt.Sprintf("evolution: %d %s", e.Status, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.kind }

// Envelope renders the error the way callers expose provider failures.
func (e *ProviderError) Envelope() map[string]any {
	return map[string]any{"success": false, "error": e.Message}
}

// AsProviderError extracts a *ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// do is the single request path: it injects apikey and content type, and maps
// every failure onto a ProviderError.
func (c *Client) do(ctx context.Context, method, path string, body any) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("evolution: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("evolution: build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		return gjson.Result{}, &ProviderError{
			Message: err.Error(),
			kind:    pkgError.ProviderUnavailableError("evolution unreachable"),
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return gjson.Result{}, &ProviderError{
			Status:  resp.StatusCode,
			Message: "read response: " + err.Error(),
			kind:    pkgError.ProviderUnavailableError("evolution response unreadable"),
		}
	}

	logrus.WithFields(logrus.Fields{
		"method":  method,
		"path":    path,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
	}).Debug("[EVOLUTION] request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, classify(resp.StatusCode, raw)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, &ProviderError{
			Status:  resp.StatusCode,
			Message: "non-JSON response body",
			kind:    pkgError.ProviderUnavailableError("evolution returned malformed JSON"),
		}
	}
	return gjson.ParseBytes(raw), nil
}

func classify(status int, raw []byte) *ProviderError {
	msg := extractMessage(raw)
	if msg == "" {
		msg = http.StatusText(status)
	}
	lower := strings.ToLower(msg)

	pe := &ProviderError{Status: status, Message: msg}
	switch {
	case status >= 500:
		pe.kind = pkgError.ProviderUnavailableError("evolution unavailable: " + msg)
	case status == http.StatusNotFound:
		pe.kind = pkgError.NotFoundError("instance not found: " + msg)
	case status == http.StatusPaymentRequired || mentionsLimit(lower):
		pe.kind = pkgError.QuotaExceededError("provider limit reached: " + msg)
	case status == http.StatusUnauthorized:
		pe.kind = pkgError.InternalServerError("evolution rejected the api key")
	case status == http.StatusForbidden && !strings.Contains(lower, "already in use"):
		pe.kind = pkgError.QuotaExceededError("provider refused: " + msg)
	default:
		pe.kind = pkgError.InvalidArgumentError(msg)
	}
	return pe
}

var limitWords = regexp.MustCompile(`\b(limits?|quotas?|plan)\b`)

func mentionsLimit(msg string) bool {
	return limitWords.MatchString(msg)
}

// extractMessage pulls a human readable reason out of the various error
// envelopes Evolution versions emit. Non-JSON bodies are returned trimmed.
func extractMessage(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		s := strings.TrimSpace(string(raw))
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	res := gjson.ParseBytes(raw)
	for _, path := range []string{"response.message", "message", "error", "response.error"} {
		v := res.Get(path)
		if !v.Exists() {
			continue
		}
		if v.IsArray() {
			parts := make([]string, 0)
			v.ForEach(func(_, item gjson.Result) bool {
				if item.IsArray() {
					item.ForEach(func(_, inner gjson.Result) bool {
						parts = append(parts, inner.String())
						return true
					})
				} else {
					parts = append(parts, item.String())
				}
				return true
			})
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
			continue
		}
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}
