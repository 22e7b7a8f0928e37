package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/mahaj/groupchat/pkg/model"
)

var errConnClosed = errors.New("fake conn closed")

type fakeConn struct {
	frames chan []byte

	mu       sync.Mutex
	written  []model.Event
	failNext bool
	closed   bool
	done     chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.frames:
		return 1, data, nil
	case <-c.done:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.failNext {
		c.failNext = false
		return errors.New("broken pipe")
	}
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.written = append(c.written, ev)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeConn) push(evs ...model.Event) {
	var frame []byte
	for _, ev := range evs {
		b, _ := json.Marshal(ev)
		frame = append(frame, b...)
		frame = append(frame, '\n')
	}
	c.frames <- frame
}

func (c *fakeConn) sent() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Event(nil), c.written...)
}

func (c *fakeConn) sentTypes() []model.EventType {
	var types []model.EventType
	for _, ev := range c.sent() {
		types = append(types, ev.Type)
	}
	return types
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out a fresh fakeConn per dial, or fails while down.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	headers []http.Header
	urls    []string
	down    bool

	// onDial, when set, runs once after a successful dial and before the
	// connection is handed back.
	onDial func()
}

func (d *fakeDialer) Dial(_ context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.headers = append(d.headers, header)
	if d.down {
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	hook := d.onDial
	d.onDial = nil
	d.mu.Unlock()

	if hook != nil {
		hook()
	}
	return c, nil
}

func (d *fakeDialer) setOnDial(fn func()) {
	d.mu.Lock()
	d.onDial = fn
	d.mu.Unlock()
}

func (d *fakeDialer) setDown(down bool) {
	d.mu.Lock()
	d.down = down
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// plainCodec marks encoded bodies so tests can tell wire from display form.
type plainCodec struct{}

func (plainCodec) Encode(s string) string { return "wire:" + s }

func (plainCodec) Decode(s string) string {
	if len(s) > 5 && s[:5] == "wire:" {
		return s[5:]
	}
	return s
}

type fakeSigner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	block chan struct{}
}

func (s *fakeSigner) SignDownload(ctx context.Context, key string) (string, time.Time, error) {
	s.mu.Lock()
	s.calls = append(s.calls, key)
	block, fail := s.block, s.fail[key]
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", time.Time{}, ctx.Err()
		}
	}
	if fail {
		return "", time.Time{}, errors.New("access denied")
	}
	return "https://signed.example/" + key, time.Now().Add(time.Hour), nil
}

func (s *fakeSigner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeSuggester struct {
	mu    sync.Mutex
	texts []string
	out   []string
	err   error

	// block, when set, holds every answer until it is closed. The answer is
	// returned even if the caller has given up.
	block chan struct{}
}

func (s *fakeSuggester) Suggest(_ context.Context, text string) ([]string, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out, s.err
}

func (s *fakeSuggester) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type fakeHistory struct {
	msgs   []model.Message
	groups map[string][]model.Message
	err    error

	// started is closed when the fetch begins; the fetch then waits for
	// release.
	started chan struct{}
	release chan struct{}
}

func (h fakeHistory) History(_ context.Context, groupID string) ([]model.Message, error) {
	if h.started != nil {
		close(h.started)
		<-h.release
	}
	if h.groups != nil {
		return h.groups[groupID], h.err
	}
	return h.msgs, h.err
}

// manualClock is a Scheduler whose timers fire only when advanced.
type manualClock struct {
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *manualClock) schedule(d time.Duration, fn func()) func() bool {
	t := &manualTimer{at: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return func() bool {
		was := !t.stopped && !t.fired
		t.stopped = true
		return was
	}
}

func (c *manualClock) advance(d time.Duration) {
	c.now += d
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			t.fn()
		}
	}
}

func msg(id, author, body string) model.Message {
	return model.Message{ID: id, GroupID: "g1", Author: model.User{ID: author}, Body: body, Timestamp: time.Unix(1700000000, 0).UTC()}
}
