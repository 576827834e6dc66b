// Package schemaregistry is a small client for the Confluent Schema Registry
// REST API: registering subject versions and fetching schemas by id.
package schemaregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const contentType = "application/vnd.schemaregistry.v1+json"

var ErrNotFound = errors.New("schema registry: not found")

// Config holds the registry endpoint and retry settings.
type Config struct {
	URL            string        `mapstructure:"url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"maxRetries"`
	InitialBackoff time.Duration `mapstructure:"initialBackoff"`
	MaxBackoff     time.Duration `mapstructure:"maxBackoff"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:            "http://localhost:8081",
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Client talks to the registry and caches every id and schema it has seen.
// Registered schemas are immutable, so cached entries never go stale.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu      sync.RWMutex
	ids     map[string]int
	schemas map[int]string
}

// NewClient returns a Client for cfg.URL.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("schema registry url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid schema registry url: %w", err)
	}
	def := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		ids:     make(map[string]int),
		schemas: make(map[int]string),
	}, nil
}

// Register registers schema under subject and returns its global id. Registering
// an already known schema is idempotent on the registry side.
func (c *Client) Register(ctx context.Context, subject, schema string) (int, error) {
	cacheKey := subject + "\x00" + schema
	c.mu.RLock()
	id, ok := c.ids[cacheKey]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	var resp struct {
		ID int `json:"id"`
	}
	path := "/subjects/" + url.PathEscape(subject) + "/versions"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"schema": schema}, &resp); err != nil {
		return 0, fmt.Errorf("register subject %s: %w", subject, err)
	}

	c.mu.Lock()
	c.ids[cacheKey] = resp.ID
	c.schemas[resp.ID] = schema
	c.mu.Unlock()

	c.logger.Debug("schema registered", zap.String("subject", subject), zap.Int("id", resp.ID))
	return resp.ID, nil
}

// SchemaByID returns the schema registered under id.
func (c *Client) SchemaByID(ctx context.Context, id int) (string, error) {
	c.mu.RLock()
	schema, ok := c.schemas[id]
	c.mu.RUnlock()
	if ok {
		return schema, nil
	}

	var resp struct {
		Schema string `json:"schema"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/schemas/ids/%d", id), nil, &resp); err != nil {
		return "", fmt.Errorf("fetch schema %d: %w", id, err)
	}

	c.mu.Lock()
	c.schemas[id] = resp.Schema
	c.mu.Unlock()
	return resp.Schema, nil
}

// do performs one registry call, retrying transport errors and 5xx answers
// with exponential backoff. 4xx answers are final.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}
	endpoint := strings.TrimRight(c.cfg.URL, "/") + path

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			c.logger.Debug("retrying schema registry request", zap.String("url", endpoint), zap.Int("attempt", attempt))
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", contentType)
		if body != nil {
			req.Header.Set("Content-Type", contentType)
		}
		if c.cfg.Username != "" {
			req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode >= 500:
			return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, respBody)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, respBody))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.cfg.MaxRetries, 0))), ctx))
}
