// Package teams posts notifications to a team-messaging conversation through
// a bot connector REST endpoint.
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orderrelay/internal/common"
	"orderrelay/internal/domain/delivery"
)

var (
	_ delivery.Backend   = (*Client)(nil)
	_ delivery.Lifecycle = (*Client)(nil)
)

// Config holds team-messaging API settings.
type Config struct {
	BaseURL        string
	BotToken       string
	ConversationID string
	Timeout        time.Duration
}

// Client posts message activities to a conversation.
type Client struct {
	cfg          Config
	directory    *delivery.Directory
	destinations []string
	httpClient   *http.Client
}

// NewClient creates a team-messaging client. Every destination resolves to
// the configured conversation.
func NewClient(cfg Config, directory *delivery.Directory, destinations []string) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:          cfg,
		directory:    directory,
		destinations: destinations,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Method() delivery.Method { return delivery.MethodTeam }

// Activate registers the conversation as the channel for every destination.
func (c *Client) Activate(ctx context.Context) error {
	conversation := c.cfg.ConversationID
	c.directory.ReplaceAll(delivery.StaticHandles(c.destinations, func(string) string { return conversation }, false))
	return nil
}

func (c *Client) Deactivate() {}

type activity struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	TextFormat string `json:"textFormat"`
}

// Send posts msg to the destination's conversation. A rejected call reports
// the response body as the failure reason.
func (c *Client) Send(ctx context.Context, msg *delivery.Message) error {
	handle, ok := c.directory.Resolve(msg.Destination)
	if !ok {
		return common.NewDeliveryError(common.KindNotFound, string(delivery.MethodTeam),
			fmt.Sprintf("no conversation for destination: %s", msg.Destination))
	}

	jsonData, err := json.Marshal(activity{Type: "message", Text: msg.Text, TextFormat: "plain"})
	if err != nil {
		return fmt.Errorf("marshaling activity: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v3/conversations/%s/activities",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(handle.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.BotToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.WrapDeliveryError(common.KindTransportFailure, string(delivery.MethodTeam),
			fmt.Errorf("executing request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := strings.TrimSpace(string(body))
		if reason == "" {
			reason = fmt.Sprintf("team API error: status %d", resp.StatusCode)
		}
		return common.NewDeliveryError(common.KindTransportFailure, string(delivery.MethodTeam), reason)
	}

	return nil
}
