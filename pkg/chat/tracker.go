package chat

import (
	"github.com/mahaj/groupchat/pkg/model"
)

// Decoder turns a wire body into displayable text. It must be total.
type Decoder interface {
	Decode(wire string) string
}

type IngestResult int

const (
	Appended IngestResult = iota
	Duplicate
	Invalid
)

func (r IngestResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case Duplicate:
		return "duplicate"
	default:
		return "invalid"
	}
}

type entry struct {
	msg         model.Message
	text        string
	decoded     bool
	readers     []string
	readSet     map[string]struct{}
	receiptSent bool
}

// Tracker is the ordered, deduplicated message log of the active group
// together with each message's read-by set. Bodies are stored in wire form;
// each is decoded on first read and the text kept alongside it.
type Tracker struct {
	self  string
	dec   Decoder
	order []*entry
	byID  map[string]*entry
}

func NewTracker(self string, dec Decoder) *Tracker {
	return &Tracker{self: self, dec: dec, byID: make(map[string]*entry)}
}

// Ingest appends msg in arrival order unless its id has been seen before.
func (t *Tracker) Ingest(msg model.Message) IngestResult {
	if msg.ID == "" {
		return Invalid
	}
	if _, ok := t.byID[msg.ID]; ok {
		return Duplicate
	}
	e := &entry{msg: msg, readSet: make(map[string]struct{}, len(msg.ReadBy))}
	e.msg.ReadBy = nil
	for _, r := range msg.ReadBy {
		e.addReader(r)
	}
	t.order = append(t.order, e)
	t.byID[msg.ID] = e
	return Appended
}

func (e *entry) addReader(reader string) bool {
	if reader == "" {
		return false
	}
	if _, ok := e.readSet[reader]; ok {
		return false
	}
	e.readSet[reader] = struct{}{}
	e.readers = append(e.readers, reader)
	return true
}

// plain returns the decoded body. Bodies never change, so one decode is
// enough.
func (e *entry) plain(dec Decoder) string {
	if !e.decoded {
		e.text = dec.Decode(e.msg.Body)
		e.decoded = true
	}
	return e.text
}

// MarkRead adds reader to the message's read-by set. It reports whether the
// set grew; unknown ids and repeated readers are no-ops.
func (t *Tracker) MarkRead(messageID, reader string) bool {
	e, ok := t.byID[messageID]
	if !ok {
		return false
	}
	return e.addReader(reader)
}

func (t *Tracker) Len() int { return len(t.order) }

// Messages returns the log with decoded bodies.
func (t *Tracker) Messages() []model.Message {
	out := make([]model.Message, 0, len(t.order))
	for _, e := range t.order {
		m := e.msg
		m.Body = e.plain(t.dec)
		m.ReadBy = append([]string(nil), e.readers...)
		out = append(out, m)
	}
	return out
}

// Raw returns the stored wire form of a message.
func (t *Tracker) Raw(id string) (model.Message, bool) {
	e, ok := t.byID[id]
	if !ok {
		return model.Message{}, false
	}
	m := e.msg
	m.ReadBy = append([]string(nil), e.readers...)
	return m, true
}

// ReadBy returns the read-by set of a message in the order readers arrived.
func (t *Tracker) ReadBy(id string) []string {
	e, ok := t.byID[id]
	if !ok {
		return nil
	}
	return append([]string(nil), e.readers...)
}

// PendingReceipts lists messages written by others that self has not read
// and for which no receipt has been sent yet.
func (t *Tracker) PendingReceipts() []string {
	var ids []string
	for _, e := range t.order {
		if e.receiptSent || e.msg.Author.ID == t.self {
			continue
		}
		if _, read := e.readSet[t.self]; read {
			continue
		}
		ids = append(ids, e.msg.ID)
	}
	return ids
}

// ReceiptSent records that a receipt for id reached the channel.
func (t *Tracker) ReceiptSent(id string) {
	if e, ok := t.byID[id]; ok {
		e.receiptSent = true
	}
}

// MediaRefs returns the media references of the log in order, including
// empty values and duplicates.
func (t *Tracker) MediaRefs() []string {
	refs := make([]string, 0, len(t.order))
	for _, e := range t.order {
		refs = append(refs, e.msg.MediaRef)
	}
	return refs
}

// Reset drops the whole log.
func (t *Tracker) Reset() {
	t.order = nil
	t.byID = make(map[string]*entry)
}
