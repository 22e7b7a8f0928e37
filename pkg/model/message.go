package model

import "time"

type EventType string

const (
	EventJoin        EventType = "join"
	EventLeave       EventType = "leave"
	EventMessage     EventType = "message"
	EventTyping      EventType = "typing"
	EventReadReceipt EventType = "read_receipt"
	EventPresence    EventType = "presence"
)

type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
	MediaFile  MediaKind = "file"
)

// User is the author snapshot carried on every message.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Message is a chat message. Body is codec-encoded everywhere except the
// render layer.
type Message struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Seq       int64     `json:"seq,omitempty"`
	Author    User      `json:"author"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	MediaRef  string    `json:"media_ref,omitempty"`
	MediaKind MediaKind `json:"media_kind,omitempty"`
	ReadBy    []string  `json:"read_by,omitempty"`
}

// Event is the envelope exchanged over the group channel and the fanout topic.
type Event struct {
	Type      EventType `json:"type"`
	GroupID   string    `json:"group_id"`
	Seq       int64     `json:"seq,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func JoinEvent(groupID string) Event {
	return Event{Type: EventJoin, GroupID: groupID, Timestamp: time.Now()}
}

func LeaveEvent(groupID string) Event {
	return Event{Type: EventLeave, GroupID: groupID, Timestamp: time.Now()}
}

func TypingEvent(groupID, userID string) Event {
	return Event{Type: EventTyping, GroupID: groupID, UserID: userID, Timestamp: time.Now()}
}

func ReceiptEvent(groupID, messageID, readerID string) Event {
	return Event{Type: EventReadReceipt, GroupID: groupID, MessageID: messageID, UserID: readerID, Timestamp: time.Now()}
}

func MessageEvent(msg Message) Event {
	return Event{Type: EventMessage, GroupID: msg.GroupID, UserID: msg.Author.ID, Message: &msg, Timestamp: msg.Timestamp}
}
