// Package discord publishes clear summaries through webhooks and
// keeps the sent-message bookkeeping so summaries edit in place.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Embed colors.
const (
	colorSuccess  = 0x2ecc71
	colorProgress = 0xf1c40f
)

// Message is an outbound webhook payload.
type Message struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed is one rich block in a message.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField is a titled value inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Client posts and edits webhook messages.
type Client struct {
	log    logrus.FieldLogger
	client *http.Client
}

// NewClient creates a webhook client.
func NewClient(log logrus.FieldLogger) *Client {
	return &Client{
		log:    log.WithField("component", "discord"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts a message and returns the created message id.
func (c *Client) Send(ctx context.Context, webhookURL string, msg *Message) (string, error) {
	// wait=true makes the service return the created message.
	sep := "?"
	if strings.Contains(webhookURL, "?") {
		sep = "&"
	}

	body, err := c.do(ctx, http.MethodPost, webhookURL+sep+"wait=true", msg)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decoding webhook response: %w", err)
	}

	return created.ID, nil
}

// Edit replaces the content of a previously sent message.
func (c *Client) Edit(ctx context.Context, webhookURL, messageID string, msg *Message) error {
	_, err := c.do(ctx, http.MethodPatch,
		strings.TrimRight(webhookURL, "/")+"/messages/"+messageID, msg)

	return err
}

func (c *Client) do(ctx context.Context, method, url string, msg *Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling webhook: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading webhook response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}
