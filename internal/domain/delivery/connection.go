package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderrelay/internal/common"
)

// ConnectionState is the lifecycle state of the session-based client.
type ConnectionState string

const (
	StateUninitialized    ConnectionState = "uninitialized"
	StateConnecting       ConnectionState = "connecting"
	StateConnected        ConnectionState = "connected"
	StateDisconnected     ConnectionState = "disconnected"
	StateExhaustedRetries ConnectionState = "exhausted_retries"
)

// ConnectionConfig tunes login retries and discovery.
type ConnectionConfig struct {
	// MaxAttempts is the number of consecutive failed logins before giving up.
	MaxAttempts int

	// BackoffUnit is multiplied by the attempt number to get the retry delay.
	BackoffUnit time.Duration

	// ReconnectDelay is the wait after a dropped connection.
	ReconnectDelay time.Duration

	// LoginTimeout bounds each login and discovery call.
	LoginTimeout time.Duration

	// JoinDelay is the pause between joining two discovery links.
	JoinDelay time.Duration

	DiscoveryLinks []string
}

// ConnectionSnapshot is a point-in-time view of the connection manager.
type ConnectionSnapshot struct {
	State       ConnectionState `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	Since       time.Time       `json:"since"`
}

// ConnectionManager owns the session-based client: login, channel discovery,
// disconnect detection and retry scheduling. It is the only writer of the
// connection state.
type ConnectionManager struct {
	session   Session
	directory *Directory
	cfg       ConnectionConfig
	timers    Timers

	mu        sync.Mutex
	state     ConnectionState
	since     time.Time
	attempts  int
	lastErr   string
	conn      Conn
	stopTimer func() bool
	// gen invalidates timers and watchers that belong to a superseded run.
	gen uint64
	// runCtx is cancelled when the run identified by gen is superseded, which
	// interrupts an in-flight login or discovery.
	runCtx    context.Context
	cancelRun context.CancelFunc

	// attemptMu keeps at most one login in flight.
	attemptMu sync.Mutex
}

// NewConnectionManager creates a manager in the uninitialized state.
func NewConnectionManager(session Session, directory *Directory, cfg ConnectionConfig, timers Timers) *ConnectionManager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 10 * time.Second
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 30 * time.Second
	}
	if timers == nil {
		timers = realTimers{}
	}

	return &ConnectionManager{
		session:   session,
		directory: directory,
		cfg:       cfg,
		timers:    timers,
		state:     StateUninitialized,
		since:     time.Now(),
		runCtx:    context.Background(),
	}
}

// Start begins the first login in the background. It is a no-op unless the
// manager is uninitialized. The directory is emptied first: whatever it holds
// belongs to the previously active method.
func (m *ConnectionManager) Start() {
	m.mu.Lock()
	if m.state != StateUninitialized {
		m.mu.Unlock()
		return
	}
	gen := m.newRunLocked()
	m.directory.ReplaceAll(nil)
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	go m.attempt(gen)
}

// Reconnect cancels any pending retry, resets the attempt counter and the last
// error, and runs a login attempt immediately. It returns the resulting state.
func (m *ConnectionManager) Reconnect() ConnectionSnapshot {
	m.mu.Lock()
	m.cancelTimerLocked()
	if m.state == StateUninitialized {
		m.directory.ReplaceAll(nil)
	}
	gen := m.newRunLocked()
	m.attempts = 0
	m.lastErr = ""
	old := m.conn
	m.conn = nil
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	slog.Info("session reconnect requested")
	m.attempt(gen)
	return m.Snapshot()
}

// Stop tears down the session and returns to the uninitialized state.
func (m *ConnectionManager) Stop() {
	m.mu.Lock()
	m.cancelTimerLocked()
	m.newRunLocked()
	m.cancelRun()
	conn := m.conn
	m.conn = nil
	m.attempts = 0
	m.lastErr = ""
	m.setStateLocked(StateUninitialized)
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			slog.Warn("closing session connection", "error", err)
		}
	}
}

// Snapshot returns the current state.
func (m *ConnectionManager) Snapshot() ConnectionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnectionSnapshot{
		State:       m.state,
		Attempts:    m.attempts,
		MaxAttempts: m.cfg.MaxAttempts,
		LastError:   m.lastErr,
		Since:       m.since,
	}
}

// Send posts text to a destination over the live connection. It fails without
// any network I/O unless the state is connected.
func (m *ConnectionManager) Send(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	state, conn := m.state, m.conn
	m.mu.Unlock()

	switch {
	case state == StateExhaustedRetries:
		return common.NewDeliveryError(common.KindRetriesExhausted, string(MethodSession),
			"login retries exhausted; manual reconnect required")
	case state != StateConnected || conn == nil:
		return common.NewDeliveryError(common.KindNotConnected, string(MethodSession),
			fmt.Sprintf("session is %s", state))
	}

	handle, ok := m.directory.Resolve(msg.Destination)
	if !ok || handle.Simulated {
		return common.NewDeliveryError(common.KindNotFound, string(MethodSession),
			fmt.Sprintf("channel not found: %s", msg.Destination))
	}

	if err := conn.Send(ctx, handle.ID, msg.Text); err != nil {
		return common.WrapDeliveryError(common.KindTransportFailure, string(MethodSession), err)
	}
	return nil
}

func (m *ConnectionManager) attempt(gen uint64) {
	m.attemptMu.Lock()
	defer m.attemptMu.Unlock()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.attempts++
	n := m.attempts
	runCtx := m.runCtx
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	slog.Info("session login attempt", "attempt", n, "max_attempts", m.cfg.MaxAttempts)

	ctx, cancel := context.WithTimeout(runCtx, m.cfg.LoginTimeout)
	conn, err := m.session.Connect(ctx)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		// Stopped or reconnected while logging in.
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		m.lastErr = err.Error()
		if n >= m.cfg.MaxAttempts {
			m.setStateLocked(StateExhaustedRetries)
			m.mu.Unlock()
			slog.Error("session login retries exhausted", "attempts", n, "error", err)
			return
		}
		delay := time.Duration(n) * m.cfg.BackoffUnit
		m.scheduleLocked(delay, gen)
		m.mu.Unlock()
		slog.Warn("session login failed, retry scheduled", "attempt", n, "delay", delay, "error", err)
		return
	}

	// Held by the manager so Stop and Reconnect close it, but not published as
	// connected until discovery has run.
	m.conn = conn
	m.mu.Unlock()

	slog.Info("session login succeeded, discovering channels")
	m.discover(runCtx, conn, gen)

	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.lastErr = ""
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	go m.watch(conn, gen)
}

// discover joins the configured links and replaces the directory with the
// channel listing. A failed listing leaves the directory untouched. It gives
// up as soon as the run is superseded.
func (m *ConnectionManager) discover(ctx context.Context, conn Conn, gen uint64) {
	for i, link := range m.cfg.DiscoveryLinks {
		if i > 0 && !pause(ctx, m.cfg.JoinDelay) {
			return
		}
		if !m.current(gen) {
			return
		}
		joinCtx, cancel := context.WithTimeout(ctx, m.cfg.LoginTimeout)
		err := conn.Join(joinCtx, link)
		cancel()
		if err != nil {
			slog.Warn("joining discovery link failed", "link", link, "error", err)
			continue
		}
		slog.Info("joined discovery link", "link", link)
	}

	listCtx, cancel := context.WithTimeout(ctx, m.cfg.LoginTimeout)
	defer cancel()
	handles, err := conn.Channels(listCtx)
	if err != nil {
		slog.Error("channel discovery failed, keeping previous directory", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.directory.ReplaceAll(handles)
	slog.Info("channel discovery complete", "channels", len(handles))
}

// pause waits for d and reports false if ctx ends first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *ConnectionManager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *ConnectionManager) watch(conn Conn, gen uint64) {
	<-conn.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.conn != conn {
		return
	}
	m.conn = nil
	m.lastErr = "session disconnected"
	m.setStateLocked(StateDisconnected)
	m.scheduleLocked(m.cfg.ReconnectDelay, gen)
	slog.Warn("session disconnected, reconnect scheduled", "delay", m.cfg.ReconnectDelay)
}

func (m *ConnectionManager) scheduleLocked(delay time.Duration, gen uint64) {
	m.cancelTimerLocked()
	m.stopTimer = m.timers.AfterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in session retry", "panic", r)
			}
		}()
		m.attempt(gen)
	})
}

// newRunLocked supersedes the current run: it bumps gen and cancels the old
// run context.
func (m *ConnectionManager) newRunLocked() uint64 {
	if m.cancelRun != nil {
		m.cancelRun()
	}
	m.runCtx, m.cancelRun = context.WithCancel(context.Background())
	m.gen++
	return m.gen
}

func (m *ConnectionManager) cancelTimerLocked() {
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
}

func (m *ConnectionManager) setStateLocked(s ConnectionState) {
	if m.state != s {
		m.since = time.Now()
	}
	m.state = s
	observeConnectionState(s)
}
