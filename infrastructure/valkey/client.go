package valkey

import (
	"context"
	"fmt"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

const DefaultConnectTimeout = 5 * time.Second

type Config struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// Client is the shared Valkey handle. Every key and channel it touches is
// namespaced with the configured prefix so several deployments can share
// one server.
type Client struct {
	inner  valkeylib.Client
	prefix string
}

// NewClient dials and pings; the caller owns Close.
func NewClient(cfg Config) (*Client, error) {
	inner, err := valkeylib.NewClient(valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to ping valkey at %s: %w", cfg.Address, err)
	}

	return &Client{inner: inner, prefix: normalizePrefix(cfg.KeyPrefix)}, nil
}

func normalizePrefix(p string) string {
	if p != "" && !strings.HasSuffix(p, ":") {
		p += ":"
	}
	return p
}

func (c *Client) Close() {
	if c.inner != nil {
		c.inner.Close()
	}
}

// Key joins parts with ":" under the prefix, e.g. Key("dedup", "acme-1")
// gives "azconnect:dedup:acme-1".
func (c *Client) Key(parts ...string) string {
	if len(parts) == 0 {
		return strings.TrimSuffix(c.prefix, ":")
	}
	return c.prefix + strings.Join(parts, ":")
}

func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Do(ctx, c.inner.B().Ping().Build()).Error()
}

// SetNX stores value only when key is absent and reports whether it did.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cmd := c.inner.B().Set().Key(key).Value(value).Nx().Ex(ttl).Build()
	err := c.inner.Do(ctx, cmd).Error()
	switch {
	case valkeylib.IsValkeyNil(err):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.inner.Do(ctx, c.inner.B().Del().Key(keys...).Build()).Error()
}

// Publish sends payload on the prefixed channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	cmd := c.inner.B().Publish().Channel(c.Key(channel)).Message(valkeylib.BinaryString(payload)).Build()
	return c.inner.Do(ctx, cmd).Error()
}

// Subscribe blocks until ctx is done, calling fn for each message on the
// prefixed channel.
func (c *Client) Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error {
	cmd := c.inner.B().Subscribe().Channel(c.Key(channel)).Build()
	return c.inner.Receive(ctx, cmd, func(msg valkeylib.PubSubMessage) {
		fn([]byte(msg.Message))
	})
}
