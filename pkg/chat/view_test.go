package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/groupchat/pkg/model"
	"github.com/mahaj/groupchat/pkg/session"
)

var testSess = session.Session{User: model.User{ID: "u1", Name: "Ada"}, Token: testToken}

type updates struct {
	mu     sync.Mutex
	states []State
}

func (u *updates) record(s State) {
	u.mu.Lock()
	u.states = append(u.states, s)
	u.mu.Unlock()
}

func (u *updates) all() []State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]State(nil), u.states...)
}

func testOptions(d *fakeDialer) Options {
	ids := 0
	return Options{
		GatewayURL:   testURL,
		Dialer:       d,
		Codec:        plainCodec{},
		TypingWindow: 50 * time.Millisecond,
		NewID: func() string {
			ids++
			return "local-" + string(rune('0'+ids))
		},
	}
}

func openTestView(t *testing.T, opts Options) *View {
	t.Helper()
	v, err := OpenView(context.Background(), opts, testSess, "g1")
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestView_LoadsHistoryAndAcknowledges(t *testing.T) {
	d := &fakeDialer{}
	opts := testOptions(d)
	read := msg("h2", "u3", "wire:seen")
	read.ReadBy = []string{"u1"}
	opts.History = fakeHistory{msgs: []model.Message{
		msg("h1", "u2", "wire:hello"),
		read,
		msg("h3", "u1", "wire:mine"),
		msg("h1", "u2", "wire:hello"),
	}}

	v := openTestView(t, opts)

	require.Eventually(t, func() bool { return v.State().Conn == StateJoined }, time.Second, time.Millisecond)
	st := v.State()
	require.Len(t, st.Messages, 3)
	assert.Equal(t, "hello", st.Messages[0].Body)
	assert.Equal(t, "g1", st.GroupID)

	require.Eventually(t, func() bool { return len(d.last().sent()) == 2 }, time.Second, time.Millisecond)
	sent := d.last().sent()
	assert.Equal(t, model.EventJoin, sent[0].Type)
	assert.Equal(t, model.EventReadReceipt, sent[1].Type)
	assert.Equal(t, "h1", sent[1].MessageID)
	assert.Equal(t, "u1", sent[1].UserID)
}

func TestView_LiveEventsDuringHistoryFetchAreKept(t *testing.T) {
	d := &fakeDialer{}
	opts := testOptions(d)
	hist := fakeHistory{
		msgs:    []model.Message{msg("m1", "u2", "wire:one"), msg("m2", "u3", "wire:two")},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	opts.History = hist

	type result struct {
		v   *View
		err error
	}
	opened := make(chan result, 1)
	go func() {
		v, err := OpenView(context.Background(), opts, testSess, "g1")
		opened <- result{v, err}
	}()

	<-hist.started
	conn := d.last()
	require.NotNil(t, conn, "joined before history is read")
	assert.Equal(t, []model.EventType{model.EventJoin}, conn.sentTypes())

	// m2 overlaps the history, m3 was published while it was being read.
	conn.push(
		model.MessageEvent(msg("m2", "u3", "wire:two")),
		model.MessageEvent(msg("m3", "u2", "wire:three")),
		model.ReceiptEvent("g1", "m1", "u4"),
	)
	time.Sleep(20 * time.Millisecond)
	close(hist.release)

	res := <-opened
	require.NoError(t, res.err)
	v := res.v
	t.Cleanup(func() { v.Close() })

	require.Eventually(t, func() bool { return len(v.State().Messages) == 3 }, time.Second, time.Millisecond)
	st := v.State()
	var ids []string
	for _, m := range st.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids, "history first, live events after, overlap dropped")
	assert.Equal(t, []string{"u4"}, st.Messages[0].ReadBy)
	assert.Equal(t, "three", st.Messages[2].Body)
}

func TestView_HistoryFailureStartsEmpty(t *testing.T) {
	d := &fakeDialer{}
	opts := testOptions(d)
	opts.History = fakeHistory{err: errors.New("api down")}

	v := openTestView(t, opts)
	assert.Empty(t, v.State().Messages)
}

func TestView_OpenFailureReleasesResources(t *testing.T) {
	d := &fakeDialer{down: true}
	_, err := OpenView(context.Background(), testOptions(d), testSess, "g1")
	require.Error(t, err)

	_, err = OpenView(context.Background(), testOptions(d), testSess, "")
	require.Error(t, err)
}

func TestView_SendIsOptimisticAndEchoIsDropped(t *testing.T) {
	d := &fakeDialer{}
	u := &updates{}
	opts := testOptions(d)
	opts.OnUpdate = u.record
	v := openTestView(t, opts)

	sent, err := v.Send(Outgoing{Text: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "local-1", sent.ID)
	assert.Equal(t, "Hello", sent.Body)

	st := v.State()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "Hello", st.Messages[0].Body)

	out := d.last().sent()
	last := out[len(out)-1]
	require.Equal(t, model.EventMessage, last.Type)
	assert.Equal(t, "wire:Hello", last.Message.Body, "encoded on the wire")

	d.last().push(model.MessageEvent(*last.Message))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, v.State().Messages, 1, "echo is a duplicate")
	assert.NotEmpty(t, u.all())
}

func TestView_SendWhileDisconnected(t *testing.T) {
	d := &fakeDialer{}
	v := openTestView(t, testOptions(d))

	d.setDown(true)
	d.last().Close()
	require.Eventually(t, func() bool { return v.State().Conn == StateReconnecting }, time.Second, time.Millisecond)

	_, err := v.Send(Outgoing{Text: "lost"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, v.State().Messages, "rejected sends are not appended")
}

func TestView_InboundMessageFlow(t *testing.T) {
	d := &fakeDialer{}
	sugg := &fakeSuggester{out: []string{"Sure", "No thanks"}}
	opts := testOptions(d)
	opts.Suggester = sugg
	v := openTestView(t, opts)

	conn := d.last()
	conn.push(model.MessageEvent(msg("m1", "u2", "wire:Lunch?")))

	require.Eventually(t, func() bool { return len(v.State().Suggestions) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"Lunch?"}, sugg.seen(), "suggester sees decoded text")

	require.Eventually(t, func() bool {
		for _, ev := range conn.sent() {
			if ev.Type == model.EventReadReceipt && ev.MessageID == "m1" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	conn.push(model.ReceiptEvent("g1", "m1", "u3"))
	require.Eventually(t, func() bool {
		st := v.State()
		return len(st.Messages) == 1 && assert.ObjectsAreEqual([]string{"u3"}, st.Messages[0].ReadBy)
	}, time.Second, time.Millisecond)

	reply, err := v.Reply(1)
	require.NoError(t, err)
	assert.Equal(t, "No thanks", reply.Body)
	st := v.State()
	assert.Empty(t, st.Suggestions, "sending clears suggestions")
	assert.Len(t, st.Messages, 2)

	_, err = v.Reply(0)
	assert.Error(t, err)
}

func TestView_OwnMessagesDoNotSuggest(t *testing.T) {
	d := &fakeDialer{}
	sugg := &fakeSuggester{out: []string{"Sure"}}
	opts := testOptions(d)
	opts.Suggester = sugg
	v := openTestView(t, opts)

	d.last().push(model.MessageEvent(msg("m1", "u1", "wire:from another device")))
	require.Eventually(t, func() bool { return len(v.State().Messages) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sugg.seen())
}

func TestView_TypingClearsSuggestions(t *testing.T) {
	d := &fakeDialer{}
	opts := testOptions(d)
	opts.Suggester = &fakeSuggester{out: []string{"Sure"}}
	v := openTestView(t, opts)

	d.last().push(model.MessageEvent(msg("m1", "u2", "wire:hi")))
	require.Eventually(t, func() bool { return len(v.State().Suggestions) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, v.Typing())
	assert.Empty(t, v.State().Suggestions)
	sent := d.last().sent()
	assert.Equal(t, model.EventTyping, sent[len(sent)-1].Type)
}

func TestView_StaleSuggestionsAreDiscarded(t *testing.T) {
	tests := []struct {
		name string
		act  func(v *View) error
	}{
		{"typing", func(v *View) error { return v.Typing() }},
		{"send", func(v *View) error {
			_, err := v.Send(Outgoing{Text: "on it"})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialer{}
			sugg := &fakeSuggester{out: []string{"Sure"}, block: make(chan struct{})}
			opts := testOptions(d)
			opts.Suggester = sugg
			v := openTestView(t, opts)

			d.last().push(model.MessageEvent(msg("m1", "u2", "wire:Lunch?")))
			require.Eventually(t, func() bool { return len(sugg.seen()) == 1 }, time.Second, time.Millisecond)

			require.NoError(t, tt.act(v))
			close(sugg.block)

			time.Sleep(30 * time.Millisecond)
			assert.Empty(t, v.State().Suggestions, "answer to an invalidated request")
		})
	}
}

func TestClient_SwitchDiscardsPendingSuggestions(t *testing.T) {
	d := &fakeDialer{}
	sugg := &fakeSuggester{out: []string{"Sure"}, block: make(chan struct{})}
	u := &updates{}
	opts := testOptions(d)
	opts.Suggester = sugg
	opts.OnUpdate = u.record
	c := NewClient(opts, session.NewMemoryStore(), testSess)

	_, err := c.Enter(context.Background(), "g1")
	require.NoError(t, err)
	d.last().push(model.MessageEvent(msg("m1", "u2", "wire:Lunch?")))
	require.Eventually(t, func() bool { return len(sugg.seen()) == 1 }, time.Second, time.Millisecond)

	v2, err := c.Enter(context.Background(), "g2")
	require.NoError(t, err)
	t.Cleanup(func() { c.Leave() })
	close(sugg.block)

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, v2.State().Suggestions)
	for _, st := range u.all() {
		assert.Empty(t, st.Suggestions, "group %s", st.GroupID)
	}
}

func TestView_TypingIndicatorExpires(t *testing.T) {
	d := &fakeDialer{}
	v := openTestView(t, testOptions(d))
	conn := d.last()

	conn.push(model.TypingEvent("g1", "u1"), model.TypingEvent("g1", "u2"))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"u2"}, v.State().Typing)
	}, time.Second, time.Millisecond, "own typing is ignored")

	require.Eventually(t, func() bool { return len(v.State().Typing) == 0 }, time.Second, 5*time.Millisecond)
}

func TestView_ResolvesMedia(t *testing.T) {
	d := &fakeDialer{}
	opts := testOptions(d)
	opts.Signer = &fakeSigner{}
	v := openTestView(t, opts)

	_, err := v.Send(Outgoing{Text: "look", MediaRef: "s3://bucket/cat.png", MediaKind: model.MediaImage})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return v.State().MediaLinks["s3://bucket/cat.png"] == "https://signed.example/cat.png"
	}, time.Second, time.Millisecond)
}

func TestView_ClosedViewRejectsCalls(t *testing.T) {
	d := &fakeDialer{}
	v, err := OpenView(context.Background(), testOptions(d), testSess, "g1")
	require.NoError(t, err)
	conn := d.last()

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	assert.Equal(t, []model.EventType{model.EventJoin, model.EventLeave}, conn.sentTypes())
	_, err = v.Send(Outgoing{Text: "late"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, v.Typing(), ErrClosed)
	assert.Equal(t, StateDisconnected, v.State().Conn)
}

func TestClient_SwitchDiscardsPendingMedia(t *testing.T) {
	d := &fakeDialer{}
	signer := &fakeSigner{block: make(chan struct{})}
	u := &updates{}
	opts := testOptions(d)
	opts.Signer = signer
	opts.OnUpdate = u.record
	first := msg("m1", "u2", "wire:pic")
	first.MediaRef = "s3://bucket/g1.png"
	second := msg("m2", "u3", "wire:other pic")
	second.GroupID = "g2"
	second.MediaRef = "s3://bucket/g2.png"
	opts.History = fakeHistory{groups: map[string][]model.Message{
		"g1": {first},
		"g2": {second},
	}}

	store := session.NewMemoryStore()
	c := NewClient(opts, store, testSess)

	v1, err := c.Enter(context.Background(), "g1")
	require.NoError(t, err)
	g1Conn := d.last()
	require.Eventually(t, func() bool { return signer.callCount() == 1 }, time.Second, time.Millisecond)

	v2, err := c.Enter(context.Background(), "g2")
	require.NoError(t, err)
	close(signer.block)

	assert.Same(t, v2, c.Active())
	assert.Equal(t, model.EventLeave, g1Conn.sentTypes()[len(g1Conn.sentTypes())-1])
	assert.True(t, g1Conn.isClosed())

	time.Sleep(30 * time.Millisecond)
	for _, st := range u.all() {
		if st.GroupID == "g1" {
			assert.Empty(t, st.MediaLinks, "stale resolution must not surface")
		}
	}
	assert.Equal(t, "g2", v2.State().GroupID)
	assert.ErrorIs(t, v1.Typing(), ErrClosed)

	require.Eventually(t, func() bool { return len(v2.State().MediaLinks) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, map[string]string{"s3://bucket/g2.png": "https://signed.example/g2.png"}, v2.State().MediaLinks)
	for _, st := range u.all() {
		if st.GroupID == "g2" {
			assert.NotContains(t, st.MediaLinks, "s3://bucket/g1.png")
		}
	}

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "g2", saved.ActiveGroup)

	same, err := c.Enter(context.Background(), "g2")
	require.NoError(t, err)
	assert.Same(t, v2, same)

	require.NoError(t, c.Logout(context.Background()))
	assert.Nil(t, c.Active())
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = c.Enter(context.Background(), "g1")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestResume(t *testing.T) {
	store := session.NewMemoryStore()
	_, err := Resume(context.Background(), Options{}, store)
	assert.ErrorIs(t, err, ErrNoSession)

	s := testSess
	require.NoError(t, store.Save(context.Background(), &s))
	c, err := Resume(context.Background(), Options{}, store)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Session().User.ID)
}
