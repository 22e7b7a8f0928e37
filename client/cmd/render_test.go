package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mahaj/groupchat/pkg/chat"
	"github.com/mahaj/groupchat/pkg/model"
)

func TestRenderer_PrintsOnlyChanges(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, "u1")

	mine := model.Message{ID: "m1", Author: model.User{ID: "u1", Name: "Ada"}, Body: "Hello", Timestamp: time.Now()}
	st := chat.State{GroupID: "g1", Conn: chat.StateJoined, Messages: []model.Message{mine}}
	r.update(st)
	r.update(st)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Ada: Hello"))
	assert.Equal(t, 1, strings.Count(out, "-- #g1 --"))

	mine.ReadBy = []string{"u2"}
	st.Messages = []model.Message{mine}
	st.Typing = []string{"u3"}
	st.Suggestions = []string{"Sure"}
	r.update(st)

	out = buf.String()
	assert.Contains(t, out, "seen by u2")
	assert.Contains(t, out, "u3 is typing...")
	assert.Contains(t, out, "[1] Sure")
}

func TestRenderer_GroupSwitchResets(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, "u1")
	m := model.Message{ID: "m1", Author: model.User{ID: "u2"}, Body: "hi"}

	r.update(chat.State{GroupID: "g1", Messages: []model.Message{m}})
	r.update(chat.State{GroupID: "g2", Messages: []model.Message{m}})

	assert.Equal(t, 2, strings.Count(buf.String(), "u2: hi"))
	assert.Contains(t, buf.String(), "-- #g2 --")
}

func TestTypingLine(t *testing.T) {
	assert.Equal(t, "", typingLine(nil))
	assert.Equal(t, "bo is typing...", typingLine([]string{"bo"}))
	assert.Equal(t, "al, bo are typing...", typingLine([]string{"al", "bo"}))
}

func TestMediaKindFor(t *testing.T) {
	assert.Equal(t, model.MediaImage, mediaKindFor("image/png"))
	assert.Equal(t, model.MediaVideo, mediaKindFor("video/mp4"))
	assert.Equal(t, model.MediaAudio, mediaKindFor("audio/ogg"))
	assert.Equal(t, model.MediaFile, mediaKindFor("application/pdf"))
}
