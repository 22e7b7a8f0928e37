package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/groupchat/pkg/model"
	"github.com/mahaj/groupchat/pkg/session"
)

// Codec is the reversible body transform applied on the send path and
// undone on the render path.
type Codec interface {
	Encode(plaintext string) string
	Decode(wire string) string
}

// History returns the stored message log of a group.
type History interface {
	History(ctx context.Context, groupID string) ([]model.Message, error)
}

type Options struct {
	GatewayURL string
	Dialer     Dialer
	Codec      Codec
	History    History
	Signer     Signer
	Suggester  Suggester

	TypingWindow   time.Duration
	MaxSuggestions int
	MediaParallel  int
	MediaLinkTTL   time.Duration

	// OnUpdate is called on the view loop with a fresh snapshot after every
	// visible change. It must not call back into the view's blocking methods.
	OnUpdate func(State)

	NewID func() string
	Now   func() time.Time
}

// State is what the render layer sees of the active group.
type State struct {
	GroupID     string
	Conn        ConnState
	Messages    []model.Message
	Typing      []string
	MediaLinks  map[string]string
	Suggestions []string
}

// View is the client side of one active group. It owns the group channel,
// the message log, typing presence, the media link map and reply
// suggestions. All of that state is touched only from the view's loop
// goroutine; network work runs elsewhere and posts its result back.
type View struct {
	opts  Options
	self  model.User
	group string

	channel  *Channel
	tracker  *Tracker
	presence *Presence
	resolver *Resolver
	gate     *SuggestionGate

	tasks     chan func()
	stateKick chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	// loading holds live events that arrive before history is ingested.
	loading bool
	held    []model.Event

	conn        ConnState
	links       map[string]string
	mediaCycle  uint64
	suggestions []string
	suggestGen  uint64
}

// OpenView opens the group's channel and then loads its history. Live events
// that arrive meanwhile are applied after the history. On error no resources
// are left behind.
func OpenView(ctx context.Context, opts Options, sess session.Session, groupID string) (*View, error) {
	if groupID == "" {
		return nil, errors.New("chat: group id is required")
	}
	if opts.Codec == nil {
		return nil, errors.New("chat: codec is required")
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	v := &View{
		opts:      opts,
		self:      sess.User,
		group:     groupID,
		tracker:   NewTracker(sess.User.ID, opts.Codec),
		tasks:     make(chan func()),
		stateKick: make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		links:     map[string]string{},
		loading:   true,
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.presence = NewPresence(opts.TypingWindow, v.afterFunc, v.notify)
	v.resolver = NewResolver(opts.Signer, opts.MediaParallel, opts.MediaLinkTTL)
	v.gate = NewSuggestionGate(opts.Suggester, opts.MaxSuggestions)
	v.channel = NewChannel(ChannelConfig{
		URL:     opts.GatewayURL,
		Token:   sess.Token,
		GroupID: groupID,
		Dialer:  opts.Dialer,
	})

	go v.run()

	err := v.channel.Open(ctx, Subscriptions{
		OnEvent: func(ev model.Event) { v.post(func() { v.handle(ev) }) },
		// State changes can be reported from inside a loop task (a failed
		// Send), so they only nudge the loop to re-read the channel state.
		OnState: func(ConnState) {
			select {
			case v.stateKick <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		v.shutdown()
		return nil, fmt.Errorf("opening group %s: %w", groupID, err)
	}

	// History is read after the join so nothing published in between is
	// missed; overlap with the held live events is removed by id.
	var history []model.Message
	if opts.History != nil {
		history, err = opts.History.History(ctx, groupID)
		if err != nil {
			log.Warn().Err(err).Str("group", groupID).Msg("history unavailable, starting empty")
		}
	}
	v.post(func() { v.loaded(history) })
	return v, nil
}

// loaded ingests history ahead of the live events held while it was read.
func (v *View) loaded(history []model.Message) {
	for _, m := range history {
		if m.GroupID == "" || m.GroupID == v.group {
			v.tracker.Ingest(m)
		}
	}
	held := v.held
	v.loading, v.held = false, nil
	for _, ev := range held {
		v.handle(ev)
	}
	v.changed()
}

func (v *View) GroupID() string { return v.group }

func (v *View) run() {
	defer close(v.done)
	for {
		select {
		case fn := <-v.tasks:
			fn()
		case <-v.stateKick:
			v.syncConn()
		case <-v.quit:
			return
		}
	}
}

// post hands fn to the loop. It reports false once the view is closed.
func (v *View) post(fn func()) bool {
	select {
	case v.tasks <- fn:
		return true
	case <-v.quit:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (v *View) call(fn func()) error {
	finished := make(chan struct{})
	if !v.post(func() { defer close(finished); fn() }) {
		return ErrClosed
	}
	<-finished
	return nil
}

func (v *View) afterFunc(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, func() { v.post(fn) })
	return t.Stop
}

func (v *View) handle(ev model.Event) {
	if v.loading {
		v.held = append(v.held, ev)
		return
	}
	switch ev.Type {
	case model.EventMessage:
		if ev.Message == nil {
			return
		}
		msg := *ev.Message
		if msg.GroupID == "" {
			msg.GroupID = ev.GroupID
		}
		if msg.GroupID != v.group {
			return
		}
		if v.tracker.Ingest(msg) != Appended {
			return
		}
		if msg.Author.ID != v.self.ID {
			v.requestSuggestions(msg)
		}
		v.changed()
	case model.EventTyping:
		if ev.UserID == "" || ev.UserID == v.self.ID {
			return
		}
		if v.presence.Touch(ev.UserID) {
			v.notify()
		}
	case model.EventReadReceipt:
		if v.tracker.MarkRead(ev.MessageID, ev.UserID) {
			v.notify()
		}
	case model.EventPresence:
		log.Debug().Str("group", v.group).Str("user", ev.UserID).Str("presence", ev.Content).Msg("member presence")
	}
}

func (v *View) syncConn() {
	s := v.channel.State()
	if s == StateJoined {
		v.emitReceipts()
	}
	if s != v.conn {
		v.conn = s
		v.notify()
	}
}

// changed runs after the visible message set grows.
func (v *View) changed() {
	v.emitReceipts()
	v.resolveMedia()
	v.notify()
}

func (v *View) emitReceipts() {
	for _, id := range v.tracker.PendingReceipts() {
		if err := v.channel.Send(model.ReceiptEvent(v.group, id, v.self.ID)); err != nil {
			log.Debug().Err(err).Str("group", v.group).Msg("read receipts deferred")
			return
		}
		v.tracker.ReceiptSent(id)
	}
}

func (v *View) resolveMedia() {
	v.mediaCycle++
	cycle, group := v.mediaCycle, v.group
	refs := v.tracker.MediaRefs()

	hasRef := false
	for _, r := range refs {
		if r != "" {
			hasRef = true
			break
		}
	}
	if !hasRef {
		v.links = map[string]string{}
		return
	}

	go func() {
		links := v.resolver.Resolve(v.ctx, refs)
		v.post(func() { v.applyMedia(group, cycle, links) })
	}()
}

func (v *View) applyMedia(group string, cycle uint64, links map[string]string) {
	if group != v.group || cycle != v.mediaCycle {
		return
	}
	v.links = links
	v.notify()
}

func (v *View) requestSuggestions(msg model.Message) {
	v.suggestGen++
	gen, group := v.suggestGen, v.group
	v.suggestions = nil
	text := v.opts.Codec.Decode(msg.Body)

	go func() {
		out := v.gate.Fetch(v.ctx, text)
		v.post(func() { v.applySuggestions(group, gen, out) })
	}()
}

func (v *View) applySuggestions(group string, gen uint64, out []string) {
	if group != v.group || gen != v.suggestGen {
		return
	}
	v.suggestions = out
	v.notify()
}

// clearSuggestions drops the current list and invalidates any request still
// in flight.
func (v *View) clearSuggestions() {
	v.suggestGen++
	if v.suggestions != nil {
		v.suggestions = nil
		v.notify()
	}
}

func (v *View) notify() {
	if v.opts.OnUpdate != nil {
		v.opts.OnUpdate(v.snapshot())
	}
}

func (v *View) snapshot() State {
	links := make(map[string]string, len(v.links))
	for k, u := range v.links {
		links[k] = u
	}
	return State{
		GroupID:     v.group,
		Conn:        v.conn,
		Messages:    v.tracker.Messages(),
		Typing:      v.presence.Typing(),
		MediaLinks:  links,
		Suggestions: append([]string(nil), v.suggestions...),
	}
}

// Outgoing describes a message the user is sending.
type Outgoing struct {
	Text      string
	MediaRef  string
	MediaKind model.MediaKind
}

// Send encodes and emits a message. On success the message is appended to
// the local log immediately; the channel's echo is then dropped as a
// duplicate. A rejected send is not queued and nothing is appended.
func (v *View) Send(out Outgoing) (model.Message, error) {
	var (
		msg model.Message
		err error
	)
	if cerr := v.call(func() {
		v.clearSuggestions()
		msg = model.Message{
			ID:        v.opts.NewID(),
			GroupID:   v.group,
			Author:    v.self,
			Body:      v.opts.Codec.Encode(out.Text),
			Timestamp: v.opts.Now().UTC(),
			MediaRef:  out.MediaRef,
			MediaKind: out.MediaKind,
		}
		if err = v.channel.Send(model.MessageEvent(msg)); err != nil {
			return
		}
		v.tracker.Ingest(msg)
		v.changed()
	}); cerr != nil {
		return model.Message{}, cerr
	}
	if err != nil {
		return model.Message{}, err
	}
	msg.Body = out.Text
	return msg, nil
}

// Reply sends the i-th current suggestion.
func (v *View) Reply(i int) (model.Message, error) {
	var text string
	if err := v.call(func() {
		if i >= 0 && i < len(v.suggestions) {
			text = v.suggestions[i]
		}
	}); err != nil {
		return model.Message{}, err
	}
	if text == "" {
		return model.Message{}, fmt.Errorf("chat: no suggestion %d", i)
	}
	return v.Send(Outgoing{Text: text})
}

// Typing announces that the current user is typing and clears suggestions.
func (v *View) Typing() error {
	var err error
	if cerr := v.call(func() {
		v.clearSuggestions()
		err = v.channel.Send(model.TypingEvent(v.group, v.self.ID))
	}); cerr != nil {
		return cerr
	}
	return err
}

// State returns a snapshot of the view.
func (v *View) State() State {
	var s State
	if err := v.call(func() { s = v.snapshot() }); err != nil {
		return State{GroupID: v.group, Conn: StateDisconnected}
	}
	return s
}

// Reset clears the in-memory log, e.g. after the group was deleted
// elsewhere.
func (v *View) Reset() error {
	return v.call(func() {
		v.tracker.Reset()
		v.clearSuggestions()
		v.changed()
	})
}

// Close leaves the group and releases everything the view owns. In-flight
// requests are cancelled and their results discarded. Close must not be
// called from OnUpdate.
func (v *View) Close() error {
	var err error
	v.closeOnce.Do(func() {
		err = v.channel.Close()
		v.shutdown()
	})
	return err
}

func (v *View) shutdown() {
	v.cancel()
	_ = v.call(v.presence.Clear)
	close(v.quit)
	<-v.done
}
