// Package nats provides the NATS JetStream implementation of the messaging
// interfaces used by every pipeline stage.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/signalhawk/common/config"
	"github.com/telhawk-systems/signalhawk/common/logging"
)

// Client wraps a NATS connection.
type Client struct {
	conn   *nats.Conn
	logger *logging.Logger
}

// Config holds NATS client configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration

	// Username and Password for user/password authentication (optional).
	Username string
	Password string

	// Token for token-based authentication (optional).
	Token string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "signalhawk",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// ConfigFrom builds a client Config from the loaded NATS section.
func ConfigFrom(c config.NATSConfig, name string) Config {
	cfg := DefaultConfig()
	cfg.Name = name
	if c.URL != "" {
		cfg.URL = c.URL
	}
	if c.MaxReconnects != 0 {
		cfg.MaxReconnects = c.MaxReconnects
	}
	if c.ReconnectWait > 0 {
		cfg.ReconnectWait = c.ReconnectWait
	}
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	cfg.Username = c.Username
	cfg.Password = c.Password
	cfg.Token = c.Token
	return cfg
}

// options converts cfg into nats connect options.
func (cfg Config) options(logger *logging.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	return opts
}

// NewClient connects to NATS with the given configuration.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Default()
	}

	conn, err := nats.Connect(cfg.URL, cfg.options(logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn, logger: logger}, nil
}

// Close closes the connection immediately.
func (c *Client) Close() {
	c.conn.Close()
}

// Drain gracefully closes, allowing in-flight messages to complete.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Health reports an error while the connection is down.
func (c *Client) Health(_ context.Context) error {
	if !c.IsConnected() {
		return errors.New("NATS not connected")
	}
	return nil
}

// headersFrom copies NATS headers into a flat metadata map.
func headersFrom(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]string, len(h))
	for k := range h {
		m[k] = h.Get(k)
	}
	return m
}

// headersTo converts flat metadata into NATS headers.
func headersTo(m map[string]string) nats.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(nats.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
