package chat

import (
	"sort"
	"time"
)

// DefaultTypingWindow is how long a typing signal stays visible without a
// refresh.
const DefaultTypingWindow = 3 * time.Second

// Scheduler runs fn after d and returns a function that cancels it.
type Scheduler func(d time.Duration, fn func()) (stop func() bool)

type typist struct {
	gen  uint64
	stop func() bool
}

// Presence tracks who is typing in the active group. A new signal from the
// same user re-arms that user's timer instead of adding a second indicator.
// Presence is owned by the view loop and is not safe for concurrent use.
type Presence struct {
	window   time.Duration
	schedule Scheduler
	onChange func()
	gen      uint64
	typing   map[string]*typist
}

func NewPresence(window time.Duration, schedule Scheduler, onChange func()) *Presence {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &Presence{
		window:   window,
		schedule: schedule,
		onChange: onChange,
		typing:   make(map[string]*typist),
	}
}

// Touch records a typing signal from user. It reports whether the user was
// not already shown as typing.
func (p *Presence) Touch(user string) bool {
	if user == "" {
		return false
	}
	p.gen++
	gen := p.gen

	cur, existed := p.typing[user]
	if existed && cur.stop != nil {
		cur.stop()
	}
	t := &typist{gen: gen}
	t.stop = p.schedule(p.window, func() { p.expire(user, gen) })
	p.typing[user] = t
	return !existed
}

func (p *Presence) expire(user string, gen uint64) {
	cur, ok := p.typing[user]
	if !ok || cur.gen != gen {
		return
	}
	delete(p.typing, user)
	if p.onChange != nil {
		p.onChange()
	}
}

// Typing returns the users currently shown as typing, sorted.
func (p *Presence) Typing() []string {
	users := make([]string, 0, len(p.typing))
	for u := range p.typing {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Clear stops every timer and forgets all signals.
func (p *Presence) Clear() {
	for u, t := range p.typing {
		if t.stop != nil {
			t.stop()
		}
		delete(p.typing, u)
	}
}
