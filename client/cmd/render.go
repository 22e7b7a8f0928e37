package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mahaj/groupchat/pkg/chat"
	"github.com/mahaj/groupchat/pkg/model"
)

const prompt = "> "

// renderer prints view updates as a scrolling transcript. It only prints
// what changed since the previous update.
type renderer struct {
	mu     sync.Mutex
	out    io.Writer
	self   string
	group  string
	conn   chat.ConnState
	shown  map[string]int // message id -> readers already printed
	links  map[string]bool
	typing string
	sugg   string
}

func newRenderer(out io.Writer, self string) *renderer {
	return &renderer{out: out, self: self}
}

func (r *renderer) update(s chat.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.GroupID != r.group {
		r.group = s.GroupID
		r.shown = make(map[string]int)
		r.links = make(map[string]bool)
		r.typing, r.sugg = "", ""
		fmt.Fprintf(r.out, "\r-- #%s --\n", s.GroupID)
	}
	if s.Conn != r.conn {
		r.conn = s.Conn
		if s.Conn == chat.StateReconnecting {
			fmt.Fprintln(r.out, "\r(connection lost, reconnecting...)")
		}
	}

	for _, m := range s.Messages {
		n, seen := r.shown[m.ID]
		if !seen {
			fmt.Fprintf(r.out, "\r%s\n", formatMessage(m))
			r.shown[m.ID] = 0
			n = 0
		}
		if m.Author.ID == r.self && len(m.ReadBy) > n {
			fmt.Fprintf(r.out, "\r   seen by %s\n", strings.Join(m.ReadBy[n:], ", "))
			r.shown[m.ID] = len(m.ReadBy)
		}
	}

	for ref, link := range s.MediaLinks {
		if !r.links[ref] {
			r.links[ref] = true
			fmt.Fprintf(r.out, "\r   [media] %s\n", link)
		}
	}

	typing := typingLine(s.Typing)
	if typing != r.typing {
		r.typing = typing
		if typing != "" {
			fmt.Fprintf(r.out, "\r%s\n", typing)
		}
	}

	sugg := suggestionLine(s.Suggestions)
	if sugg != r.sugg {
		r.sugg = sugg
		if sugg != "" {
			fmt.Fprintf(r.out, "\r%s\n", sugg)
		}
	}
	fmt.Fprint(r.out, prompt)
}

func formatMessage(m model.Message) string {
	name := m.Author.Name
	if name == "" {
		name = m.Author.ID
	}
	line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Local().Format("15:04"), name, m.Body)
	if m.MediaRef != "" {
		kind := string(m.MediaKind)
		if kind == "" {
			kind = "file"
		}
		line += " (" + kind + ")"
	}
	return line
}

func typingLine(users []string) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return users[0] + " is typing..."
	default:
		return strings.Join(users, ", ") + " are typing..."
	}
}

func suggestionLine(s []string) string {
	if len(s) == 0 {
		return ""
	}
	parts := make([]string, len(s))
	for i, text := range s {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, text)
	}
	return "suggested: " + strings.Join(parts, "  ") + "  (/reply <n>)"
}

func mediaKindFor(contentType string) model.MediaKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return model.MediaImage
	case strings.HasPrefix(contentType, "video/"):
		return model.MediaVideo
	case strings.HasPrefix(contentType, "audio/"):
		return model.MediaAudio
	default:
		return model.MediaFile
	}
}
