package delivery

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeTimers records scheduled callbacks; tests fire them explicitly.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimers) AfterFunc(d time.Duration, f func()) func() bool {
	ft := &fakeTimer{delay: d, f: f}
	t.mu.Lock()
	t.timers = append(t.timers, ft)
	t.mu.Unlock()

	return func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		if ft.stopped || ft.fired {
			return false
		}
		ft.stopped = true
		return true
	}
}

// delays returns the delay of every callback ever scheduled.
func (t *fakeTimers) delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, 0, len(t.timers))
	for _, ft := range t.timers {
		out = append(out, ft.delay)
	}
	return out
}

// pending returns how many callbacks are neither stopped nor fired.
func (t *fakeTimers) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, ft := range t.timers {
		if !ft.stopped && !ft.fired {
			n++
		}
	}
	return n
}

// fireNext runs the oldest pending callback on the calling goroutine.
func (t *fakeTimers) fireNext() bool {
	t.mu.Lock()
	var next *fakeTimer
	for _, ft := range t.timers {
		if !ft.stopped && !ft.fired {
			next = ft
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	t.mu.Unlock()

	if next == nil {
		return false
	}
	next.f()
	return true
}

var errLoginRejected = errors.New("login rejected (status -100)")

// fakeSession fails the first failNext logins, then succeeds.
type fakeSession struct {
	mu          sync.Mutex
	failNext    int
	calls       int
	channels    []ChannelHandle
	channelsErr error
	conns       []*fakeConn
}

func (s *fakeSession) Connect(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failNext > 0 {
		s.failNext--
		return nil, errLoginRejected
	}
	c := &fakeConn{
		channels:    s.channels,
		channelsErr: s.channelsErr,
		done:        make(chan struct{}),
	}
	s.conns = append(s.conns, c)
	return c, nil
}

func (s *fakeSession) setFailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

func (s *fakeSession) setChannels(handles []ChannelHandle, err error) {
	s.mu.Lock()
	s.channels = handles
	s.channelsErr = err
	s.mu.Unlock()
}

func (s *fakeSession) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSession) lastConn() *fakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

type sentText struct {
	channelID string
	text      string
}

type fakeConn struct {
	mu          sync.Mutex
	channels    []ChannelHandle
	channelsErr error
	joined      []string
	sent        []sentText
	sendErr     error
	done        chan struct{}
	closeOnce   sync.Once
}

func (c *fakeConn) Join(ctx context.Context, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, link)
	return nil
}

func (c *fakeConn) Channels(ctx context.Context) ([]ChannelHandle, error) {
	return c.channels, c.channelsErr
}

func (c *fakeConn) Send(ctx context.Context, channelID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentText{channelID: channelID, text: text})
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	c.drop()
	return nil
}

// drop simulates the server ending the session.
func (c *fakeConn) drop() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *fakeConn) sentTexts() []sentText {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentText(nil), c.sent...)
}

func (c *fakeConn) joinedLinks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.joined...)
}

// stubBackend is a backend with a fixed result.
type stubBackend struct {
	method      Method
	err         error
	activateErr error

	mu          sync.Mutex
	sent        []*Message
	activations int
	deactivated int
}

func (b *stubBackend) Method() Method { return b.method }

func (b *stubBackend) Send(ctx context.Context, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	return b.err
}

func (b *stubBackend) Activate(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activations++
	return b.activateErr
}

func (b *stubBackend) Deactivate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deactivated++
}

func (b *stubBackend) counts() (activations, deactivated, sent int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activations, b.deactivated, len(b.sent)
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (l stubLimiter) Allow(ctx context.Context, destination string) (bool, error) {
	return l.allowed, l.err
}

type recordingRedeliverer struct {
	mu       sync.Mutex
	messages []*Message
	err      error
}

func (r *recordingRedeliverer) EnqueueRedelivery(msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}
