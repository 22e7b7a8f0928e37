package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/groupchat/pkg/model"
)

const (
	// Time allowed to write a message to the gateway.
	writeWait = 10 * time.Second

	// Maximum frame size accepted from the gateway.
	maxMessageSize = 64 << 10
)

var (
	ErrNotConnected = errors.New("chat: channel not connected")
	ErrClosed       = errors.New("chat: channel closed")
)

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateJoined
	StateLeaving
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// Conn is the part of *websocket.Conn the channel needs.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	SetWriteDeadline(time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WSDialer dials the gateway with gorilla/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
}

func (d WSDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// Subscriptions is the capability set bound to a channel for its whole
// lifetime. It is attached by Open and detached by Close, never per
// connection attempt. OnState may run on the goroutine calling Send and must
// not wait on it.
type Subscriptions struct {
	OnEvent func(model.Event)
	OnState func(ConnState)
}

type ChannelConfig struct {
	URL     string
	Token   string
	GroupID string
	Dialer  Dialer

	// NewBackOff builds the reconnect schedule. Defaults to exponential
	// backoff capped at 30s that never gives up.
	NewBackOff func() backoff.BackOff
}

// Channel is the live subscription to one group's event stream. A Channel is
// single-use: once closed it cannot be reopened.
type Channel struct {
	cfg ChannelConfig

	mu           sync.Mutex
	state        ConnState
	conn         Conn
	subs         *Subscriptions
	closed       bool
	reconnecting bool
	life         context.Context
	cancel       context.CancelFunc
	kick         chan struct{}

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewChannel(cfg ChannelConfig) *Channel {
	if cfg.Dialer == nil {
		cfg.Dialer = WSDialer{}
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &Channel{cfg: cfg, kick: make(chan struct{}, 1)}
}

func (c *Channel) GroupID() string { return c.cfg.GroupID }

func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open attaches subs, dials the gateway with the bearer credential and joins
// the group once the transport is connected.
func (c *Channel) Open(ctx context.Context, subs Subscriptions) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("chat: channel for %s already open", c.cfg.GroupID)
	}
	c.subs = &subs
	c.life, c.cancel = context.WithCancel(context.Background())
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify(&subs, StateConnecting)

	conn, err := c.dialAndJoin(ctx)
	if err != nil {
		c.mu.Lock()
		c.subs = nil
		c.cancel()
		if !c.closed {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		c.abandon(conn)
		return ErrClosed
	}
	c.conn = conn
	c.state = StateJoined
	c.wg.Add(1)
	go c.readLoop(conn)
	c.mu.Unlock()

	c.notify(&subs, StateJoined)
	log.Debug().Str("group", c.cfg.GroupID).Msg("channel joined")
	return nil
}

// Send writes ev to the gateway. When the transport is not connected the
// send is rejected with ErrNotConnected and a reconnection is triggered; the
// event is not queued.
func (c *Channel) Send(ev model.Event) error {
	if ev.GroupID == "" {
		ev.GroupID = c.cfg.GroupID
	}

	c.mu.Lock()
	state, conn, closed := c.state, c.conn, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if state != StateJoined || conn == nil {
		c.triggerReconnect()
		return ErrNotConnected
	}
	if err := c.write(conn, ev); err != nil {
		c.dropped(conn, err)
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Close leaves the group, detaches the subscriptions and closes the
// transport, in that order. It waits for the reader and any reconnect
// attempt to finish and is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	prev := c.state
	conn, subs := c.conn, c.subs
	c.state = StateLeaving
	c.mu.Unlock()
	c.notify(subs, StateLeaving)

	var err error
	if conn != nil && prev == StateJoined {
		if err = c.write(conn, model.LeaveEvent(c.cfg.GroupID)); err != nil {
			err = fmt.Errorf("sending leave for %s: %w", c.cfg.GroupID, err)
		}
	}

	c.mu.Lock()
	c.subs = nil
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	log.Debug().Str("group", c.cfg.GroupID).Msg("channel closed")
	return err
}

func (c *Channel) dialAndJoin(ctx context.Context) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, err
	}
	if err := c.write(conn, model.JoinEvent(c.cfg.GroupID)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("joining %s: %w", c.cfg.GroupID, err)
	}
	return conn, nil
}

// abandon leaves the group on a transport that joined after Close began,
// then closes it.
func (c *Channel) abandon(conn Conn) {
	if err := c.write(conn, model.LeaveEvent(c.cfg.GroupID)); err != nil {
		log.Debug().Err(err).Str("group", c.cfg.GroupID).Msg("leave on abandoned transport")
	}
	conn.Close()
}

func (c *Channel) write(conn Conn, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Channel) readLoop(conn Conn) {
	defer c.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, err)
			return
		}
		// The gateway may coalesce queued events into one frame.
		dec := json.NewDecoder(bytes.NewReader(data))
		for {
			var ev model.Event
			if err := dec.Decode(&ev); err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug().Err(err).Str("group", c.cfg.GroupID).Msg("dropping malformed event")
				}
				break
			}
			if ev.GroupID != "" && ev.GroupID != c.cfg.GroupID {
				continue
			}
			c.mu.Lock()
			subs := c.subs
			c.mu.Unlock()
			if subs != nil && subs.OnEvent != nil {
				subs.OnEvent(ev)
			}
		}
	}
}

// dropped handles an unexpected transport failure on conn.
func (c *Channel) dropped(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn || c.state != StateJoined {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	subs := c.startReconnectLocked()
	c.mu.Unlock()

	conn.Close()
	if !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		log.Warn().Err(cause).Str("group", c.cfg.GroupID).Msg("channel dropped, reconnecting")
	}
	c.notify(subs, StateReconnecting)
}

func (c *Channel) triggerReconnect() {
	c.mu.Lock()
	if c.closed || c.life == nil || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	if c.reconnecting {
		c.mu.Unlock()
		select {
		case c.kick <- struct{}{}:
		default:
		}
		return
	}
	subs := c.startReconnectLocked()
	c.mu.Unlock()
	c.notify(subs, StateReconnecting)
}

func (c *Channel) startReconnectLocked() *Subscriptions {
	c.state = StateReconnecting
	c.reconnecting = true
	c.wg.Add(1)
	go c.reconnectLoop()
	return c.subs
}

func (c *Channel) reconnectLoop() {
	defer c.wg.Done()
	b := c.cfg.NewBackOff()
	for {
		if c.life.Err() != nil {
			return
		}
		conn, err := c.dialAndJoin(c.life)
		if err == nil {
			c.mu.Lock()
			if c.state != StateReconnecting {
				c.mu.Unlock()
				c.abandon(conn)
				return
			}
			c.conn = conn
			c.state = StateJoined
			c.reconnecting = false
			subs := c.subs
			c.wg.Add(1)
			go c.readLoop(conn)
			c.mu.Unlock()

			log.Info().Str("group", c.cfg.GroupID).Msg("channel rejoined")
			c.notify(subs, StateJoined)
			return
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = 30 * time.Second
		}
		log.Debug().Err(err).Dur("retry_in", wait).Str("group", c.cfg.GroupID).Msg("reconnect failed")

		t := time.NewTimer(wait)
		select {
		case <-c.life.Done():
			t.Stop()
			return
		case <-c.kick:
			t.Stop()
		case <-t.C:
		}
	}
}

func (c *Channel) notify(subs *Subscriptions, s ConnState) {
	if subs != nil && subs.OnState != nil {
		subs.OnState(s)
	}
}
