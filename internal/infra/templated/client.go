// Package templated delivers notifications through a templated-message API
// (pre-approved message templates addressed to a recipient phone number).
package templated

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orderrelay/internal/common"
	"orderrelay/internal/domain/delivery"
	"orderrelay/internal/domain/order"
)

var (
	_ delivery.Backend   = (*Client)(nil)
	_ delivery.Lifecycle = (*Client)(nil)
)

const ordererSuffix = "님 주문!"

// Config holds templated-message API settings.
type Config struct {
	BaseURL    string
	APIKey     string
	TemplateID string
	Recipient  string
	SenderKey  string
	Timeout    time.Duration
}

// Client sends template messages over HTTPS.
type Client struct {
	cfg          Config
	directory    *delivery.Directory
	destinations []string
	httpClient   *http.Client
}

// NewClient creates a templated-message client. Every destination resolves to
// the configured recipient.
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

func (c *Client) Method() delivery.Method { return delivery.MethodTemplated }

// Activate registers the recipient as the channel for every destination.
func (c *Client) Activate(ctx context.Context) error {
	recipient := c.cfg.Recipient
	c.directory.ReplaceAll(delivery.StaticHandles(c.destinations, func(string) string { return recipient }, false))
	return nil
}

func (c *Client) Deactivate() {}

type sendRequest struct {
	TemplateID   string            `json:"template_id"`
	SenderKey    string            `json:"sender_key,omitempty"`
	Recipient    string            `json:"recipient"`
	Variables    map[string]string `json:"variables"`
	FallbackText string            `json:"fallback_text"`
}

// Send delivers msg as a template message.
func (c *Client) Send(ctx context.Context, msg *delivery.Message) error {
	handle, ok := c.directory.Resolve(msg.Destination)
	if !ok {
		return common.NewDeliveryError(common.KindNotFound, string(delivery.MethodTemplated),
			fmt.Sprintf("no recipient for destination: %s", msg.Destination))
	}

	payload := sendRequest{
		TemplateID:   c.cfg.TemplateID,
		SenderKey:    c.cfg.SenderKey,
		Recipient:    handle.ID,
		Variables:    Variables(msg),
		FallbackText: msg.Text,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling template payload: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.WrapDeliveryError(common.KindTransportFailure, string(delivery.MethodTemplated),
			fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max
	if err != nil {
		return common.WrapDeliveryError(common.KindTransportFailure, string(delivery.MethodTemplated),
			fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
			Error   struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)

		reason := errResp.Error.Message
		if reason == "" {
			reason = errResp.Message
		}
		if reason == "" {
			reason = fmt.Sprintf("templated API error: status %d", resp.StatusCode)
		}
		return common.NewDeliveryError(common.KindTransportFailure, string(delivery.MethodTemplated), reason)
	}

	return nil
}

// Variables builds the template arguments. The orderer comes from the
// structured field; only when it is missing is the rendered header line
// parsed, which is a best-effort heuristic tied to the formatter's wording.
func Variables(msg *delivery.Message) map[string]string {
	header, body, _ := strings.Cut(msg.Text, "\n")

	orderer := msg.Orderer
	if orderer == "" {
		orderer = ParseOrderer(header)
	}

	return map[string]string{
		"#{orderer}": order.OrdererOrDefault(orderer),
		"#{items}":   strings.TrimSpace(body),
	}
}

// ParseOrderer extracts the orderer from a "<name>님 주문!" header line and
// returns "" when the line does not have that shape.
func ParseOrderer(header string) string {
	name, ok := strings.CutSuffix(strings.TrimSpace(header), ordererSuffix)
	if !ok {
		return ""
	}
	return strings.TrimSpace(name)
}
