package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/groupchat/pkg/session"
)

var ErrNoSession = errors.New("chat: no valid session")

// Client holds the signed-in session and at most one active group view.
type Client struct {
	opts  Options
	store session.Store

	mu   sync.Mutex
	sess session.Session
	view *View
}

func NewClient(opts Options, store session.Store, sess session.Session) *Client {
	return &Client{opts: opts, store: store, sess: sess}
}

// Resume restores a persisted session. An expired or missing session is
// reported as ErrNoSession.
func Resume(ctx context.Context, opts Options, store session.Store) (*Client, error) {
	sess, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if !sess.Valid(now()) {
		return nil, ErrNoSession
	}
	return NewClient(opts, store, *sess), nil
}

func (c *Client) Session() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Enter makes groupID the active group. The previous view is closed before
// the new one is opened, so no event of the old group reaches the new view.
func (c *Client) Enter(ctx context.Context, groupID string) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.Token == "" {
		return nil, ErrNoSession
	}
	if c.view != nil {
		if c.view.GroupID() == groupID {
			return c.view, nil
		}
		if err := c.view.Close(); err != nil {
			log.Debug().Err(err).Str("group", c.view.GroupID()).Msg("leaving group")
		}
		c.view = nil
	}

	v, err := OpenView(ctx, c.opts, c.sess, groupID)
	if err != nil {
		return nil, err
	}
	c.view = v

	c.sess.ActiveGroup = groupID
	if c.store != nil {
		if err := c.store.Save(ctx, &c.sess); err != nil {
			log.Warn().Err(err).Msg("saving session")
		}
	}
	return v, nil
}

// Active returns the current view, or nil.
func (c *Client) Active() *View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Leave closes the active view, if any.
func (c *Client) Leave() error {
	c.mu.Lock()
	v := c.view
	c.view = nil
	c.mu.Unlock()
	if v == nil {
		return nil
	}
	return v.Close()
}

// Logout leaves the active group and forgets the session.
func (c *Client) Logout(ctx context.Context) error {
	leaveErr := c.Leave()

	c.mu.Lock()
	c.sess = session.Session{}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			return fmt.Errorf("clearing session: %w", err)
		}
	}
	return leaveErr
}
