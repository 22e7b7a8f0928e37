package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/groupchat/pkg/model"
	"github.com/mahaj/groupchat/pkg/snowflake"
)

// Store is the persistence the consumer writes to.
type Store interface {
	InsertMessage(m model.Message) error
	AddReader(groupID, messageID, readerID string, at time.Time) error
}

type Consumer struct {
	reader *kafka.Reader
	store  Store
}

func NewConsumer(brokers []string, topic string, groupID string, store Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: r, store: store}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Error().Err(err).Msg("reading from kafka, retrying in 1s")
			time.Sleep(1 * time.Second)
			continue
		}

		var ev model.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Warn().Err(err).Int64("offset", m.Offset).Msg("skipping malformed event")
			continue
		}
		if err := persist(c.store, ev); err != nil {
			log.Error().Err(err).Str("group", ev.GroupID).Str("type", string(ev.Type)).Msg("persisting event")
		}
	}
}

// persist stores messages and read receipts. Ephemeral events are skipped.
func persist(store Store, ev model.Event) error {
	switch ev.Type {
	case model.EventMessage:
		if ev.Message == nil || ev.Message.ID == "" {
			return errors.New("message event without message")
		}
		msg := *ev.Message
		if msg.GroupID == "" {
			msg.GroupID = ev.GroupID
		}
		if msg.Seq == 0 {
			msg.Seq = ev.Seq
		}
		if err := store.InsertMessage(msg); err != nil {
			return err
		}
		log.Debug().Str("group", msg.GroupID).Str("id", msg.ID).Time("sequenced_at", snowflake.Time(msg.Seq)).Msg("message saved")
	case model.EventReadReceipt:
		if ev.MessageID == "" || ev.UserID == "" {
			return errors.New("read receipt without message or reader")
		}
		at := ev.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		return store.AddReader(ev.GroupID, ev.MessageID, ev.UserID, at)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
