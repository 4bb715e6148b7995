// Package session implements the session-based chat client: an account login
// over HTTPS followed by a long-lived websocket gateway connection.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"orderrelay/internal/domain/delivery"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var _ delivery.Session = (*Client)(nil)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	maxFrameSize = 1 << 20
)

// ErrClosed is returned by calls made on a dropped connection.
var ErrClosed = errors.New("session connection closed")

// Config holds account credentials and the login endpoint.
type Config struct {
	LoginURL string
	Email    string
	Password string
	DeviceID string
	Timeout  time.Duration
}

// Client logs in and dials the chat gateway.
type Client struct {
	cfg        Config
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewClient creates a session client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.Timeout,
		},
	}
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceUUID string `json:"device_uuid"`
	Forced     bool   `json:"forced"`
}

type loginResponse struct {
	Success    bool   `json:"success"`
	Status     int    `json:"status"`
	Message    string `json:"message"`
	Token      string `json:"token"`
	GatewayURL string `json:"gateway_url"`
}

// Connect logs in with a forced login, which evicts any other session on the
// same device, and opens the gateway connection.
func (c *Client) Connect(ctx context.Context) (delivery.Conn, error) {
	login, err := c.login(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+login.Token)

	ws, resp, err := c.dialer.DialContext(ctx, login.GatewayURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}

	return newConn(ws), nil
}

func (c *Client) login(ctx context.Context) (*loginResponse, error) {
	jsonData, err := json.Marshal(loginRequest{
		Email:      c.cfg.Email,
		Password:   c.cfg.Password,
		DeviceUUID: c.cfg.DeviceID,
		Forced:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing login request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max
	if err != nil {
		return nil, fmt.Errorf("reading login response: %w", err)
	}

	var login loginResponse
	if err := json.Unmarshal(respBody, &login); err != nil {
		return nil, fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	if resp.StatusCode >= 400 || !login.Success {
		status := login.Status
		if status == 0 {
			status = resp.StatusCode
		}
		if login.Message != "" {
			return nil, fmt.Errorf("login rejected (status %d): %s", status, login.Message)
		}
		return nil, fmt.Errorf("login rejected (status %d)", status)
	}

	if login.GatewayURL == "" || login.Token == "" {
		return nil, errors.New("login response missing token or gateway_url")
	}
	return &login, nil
}

type frame struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Data any    `json:"data,omitempty"`
}

type reply struct {
	ID    string          `json:"id"`
	Event string          `json:"event,omitempty"`
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// channelInfo is one entry of the gateway's channel listing.
type channelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	MemberCount int    `json:"member_count"`
}

// channelTypeOpen marks public group channels; direct and private chats are
// never delivery targets.
const channelTypeOpen = "open"

// conn is a gateway connection. Requests carry an ID and are matched to their
// reply by the read loop.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan reply

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{
		ws:      ws,
		pending: make(map[string]chan reply),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()
	return c
}

func (c *conn) Done() <-chan struct{} { return c.done }

// Close sends a close frame and tears down the connection.
func (c *conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.shutdown()
}

func (c *conn) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *conn) Join(ctx context.Context, link string) error {
	return c.call(ctx, "join", map[string]string{"link": link}, nil)
}

func (c *conn) Channels(ctx context.Context) ([]delivery.ChannelHandle, error) {
	var infos []channelInfo
	if err := c.call(ctx, "channels", nil, &infos); err != nil {
		return nil, err
	}

	handles := make([]delivery.ChannelHandle, 0, len(infos))
	for _, info := range infos {
		if info.Type != channelTypeOpen || info.Name == "" {
			continue
		}
		handles = append(handles, delivery.ChannelHandle{
			ID:          info.ID,
			Destination: info.Name,
			MemberCount: info.MemberCount,
		})
	}
	return handles, nil
}

func (c *conn) Send(ctx context.Context, channelID, text string) error {
	return c.call(ctx, "send", map[string]string{"channel_id": channelID, "text": text}, nil)
}

// call writes one request frame and waits for the matching reply. out, when
// non-nil, receives the reply data.
func (c *conn) call(ctx context.Context, op string, data any, out any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	id := uuid.NewString()
	ch := make(chan reply, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, frame{ID: id, Op: op, Data: data}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	select {
	case r := <-ch:
		if !r.OK {
			if r.Error == "" {
				r.Error = "request rejected"
			}
			return fmt.Errorf("%s: %s", op, r.Error)
		}
		if out != nil && len(r.Data) > 0 {
			if err := json.Unmarshal(r.Data, out); err != nil {
				return fmt.Errorf("%s: decoding reply: %w", op, err)
			}
		}
		return nil
	case <-c.done:
		return fmt.Errorf("%s: %w", op, ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func (c *conn) write(ctx context.Context, f frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteJSON(f)
}

func (c *conn) readLoop() {
	defer func() { _ = c.shutdown() }()

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var r reply
		if err := c.ws.ReadJSON(&r); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				slog.Warn("session gateway sent malformed frame", "error", err)
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Warn("session gateway read ended", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if r.ID == "" {
			if r.Event != "" {
				slog.Debug("session gateway event", "event", r.Event)
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[r.ID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- r:
			default:
			}
		}
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				slog.Warn("session gateway ping failed", "error", err)
				_ = c.shutdown()
				return
			}
		}
	}
}
