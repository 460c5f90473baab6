// Package external ships log entries to an external logging endpoint over
// HTTP. The shipper is disabled entirely when no endpoint or API key is
// configured.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// Config holds the external logging endpoint settings.
type Config struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// Enabled reports whether both endpoint and key are present.
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.APIKey != ""
}

// Client posts log entry batches to the configured endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a shipper for the endpoint.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Post ships a batch of entries. A non-2xx response is an error.
func (c *Client) Post(ctx context.Context, entries []*domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode log entries: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to ship log entries: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("external log endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
