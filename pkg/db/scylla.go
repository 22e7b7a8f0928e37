package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/groupchat/pkg/model"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connecting to scylla keyspace %s: %w", keyspace, err)
	}

	log.Info().Strs("hosts", hosts).Str("keyspace", keyspace).Msg("connected to scylla")
	return &Session{Session: session}, nil
}

// Schema statements, applied in order. The keyspace statement must run
// against a session bound to the system keyspace.
const (
	createKeyspace = `CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`

	createMessages = `CREATE TABLE IF NOT EXISTS messages (
		group_id text,
		seq bigint,
		id text,
		author_id text,
		author_name text,
		author_email text,
		body text,
		timestamp timestamp,
		media_ref text,
		media_kind text,
		PRIMARY KEY (group_id, seq)
	) WITH CLUSTERING ORDER BY (seq ASC)`

	createReads = `CREATE TABLE IF NOT EXISTS message_reads (
		group_id text,
		message_id text,
		reader_id text,
		read_at timestamp,
		PRIMARY KEY ((group_id), message_id, reader_id)
	)`
)

// EnsureKeyspace creates keyspace using a short-lived system session.
func EnsureKeyspace(hosts []string, keyspace string) error {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return err
	}
	defer sys.Close()
	if err := sys.Query(fmt.Sprintf(createKeyspace, keyspace)).Exec(); err != nil {
		return fmt.Errorf("creating keyspace %s: %w", keyspace, err)
	}
	return nil
}

// EnsureSchema creates the message tables if they are missing.
func (s *Session) EnsureSchema() error {
	for name, stmt := range map[string]string{"messages": createMessages, "message_reads": createReads} {
		if err := s.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("creating %s table: %w", name, err)
		}
	}
	return nil
}

// DropSchema removes the message tables.
func (s *Session) DropSchema() error {
	for _, table := range []string{"messages", "message_reads"} {
		if err := s.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			return fmt.Errorf("dropping %s table: %w", table, err)
		}
	}
	return nil
}

func (s *Session) InsertMessage(m model.Message) error {
	const q = `INSERT INTO messages (group_id, seq, id, author_id, author_name, author_email, body, timestamp, media_ref, media_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return s.Query(q, m.GroupID, m.Seq, m.ID, m.Author.ID, m.Author.Name, m.Author.Email,
		m.Body, m.Timestamp, m.MediaRef, string(m.MediaKind)).Exec()
}

func (s *Session) AddReader(groupID, messageID, readerID string, at time.Time) error {
	const q = `INSERT INTO message_reads (group_id, message_id, reader_id, read_at) VALUES (?, ?, ?, ?)`
	return s.Query(q, groupID, messageID, readerID, at).Exec()
}

// History returns the stored log of a group oldest first, with each
// message's read-by set filled in.
func (s *Session) History(groupID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	readers, err := s.readers(groupID)
	if err != nil {
		return nil, err
	}

	iter := s.Query(`SELECT seq, id, author_id, author_name, author_email, body, timestamp, media_ref, media_kind
		FROM messages WHERE group_id = ? ORDER BY seq DESC LIMIT ?`, groupID, limit).Iter()

	var (
		msgs []model.Message
		m    model.Message
		kind string
	)
	for iter.Scan(&m.Seq, &m.ID, &m.Author.ID, &m.Author.Name, &m.Author.Email, &m.Body, &m.Timestamp, &m.MediaRef, &kind) {
		m.GroupID = groupID
		m.MediaKind = model.MediaKind(kind)
		m.ReadBy = readers[m.ID]
		msgs = append(msgs, m)
		m = model.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", groupID, err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Session) readers(groupID string) (map[string][]string, error) {
	iter := s.Query(`SELECT message_id, reader_id FROM message_reads WHERE group_id = ?`, groupID).Iter()
	out := make(map[string][]string)
	var msgID, reader string
	for iter.Scan(&msgID, &reader) {
		out[msgID] = append(out[msgID], reader)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("reading receipts of %s: %w", groupID, err)
	}
	return out, nil
}
