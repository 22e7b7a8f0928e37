package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/groupchat/pkg/model"
	"github.com/mahaj/groupchat/pkg/snowflake"
)

// Publisher is the part of *kafka.Writer the hub uses.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Members records which users are joined to which group.
type Members interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

func membersKey(groupID string) string { return "group:" + groupID + ":members" }

type subscription struct {
	client *Client
	group  string
}

type Hub struct {
	clients map[*Client]bool            // every live connection
	groups  map[string]map[*Client]bool // group_id -> joined clients
	joined  map[*Client]string          // client -> group_id

	register   chan *Client
	unregister chan *Client
	join       chan subscription
	leave      chan subscription
	broadcast  chan *model.Event

	mu       sync.RWMutex
	producer Publisher
	members  Members
	seq      *snowflake.Sequencer
}

func NewHub(producer Publisher, members Members, seq *snowflake.Sequencer) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		joined:     make(map[*Client]string),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan subscription),
		leave:      make(chan subscription),
		broadcast:  make(chan *model.Event, 256),
		producer:   producer,
		members:    members,
		seq:        seq,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			connections.Inc()
			log.Debug().Str("user", client.user.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; !ok {
				h.mu.Unlock()
				continue
			}
			delete(h.clients, client)
			close(client.send)
			group := h.removeLocked(client)
			h.mu.Unlock()
			connections.Dec()
			if group != "" {
				h.left(ctx, client, group)
			}
			log.Debug().Str("user", client.user.ID).Msg("client unregistered")

		case sub := <-h.join:
			h.mu.Lock()
			if _, ok := h.clients[sub.client]; !ok {
				h.mu.Unlock()
				continue
			}
			prev := h.removeLocked(sub.client)
			if h.groups[sub.group] == nil {
				h.groups[sub.group] = make(map[*Client]bool)
			}
			h.groups[sub.group][sub.client] = true
			h.joined[sub.client] = sub.group
			h.mu.Unlock()

			if prev != "" && prev != sub.group {
				h.left(ctx, sub.client, prev)
			}
			if err := h.members.SAdd(ctx, membersKey(sub.group), sub.client.user.ID).Err(); err != nil {
				log.Warn().Err(err).Str("user", sub.client.user.ID).Str("group", sub.group).Msg("recording membership")
			}
			log.Info().Str("user", sub.client.user.ID).Str("group", sub.group).Msg("client joined group")
			h.publish(ctx, presenceEvent(sub.group, sub.client.user.ID, "joined"))

		case sub := <-h.leave:
			h.mu.Lock()
			if h.joined[sub.client] != sub.group {
				h.mu.Unlock()
				continue
			}
			h.removeLocked(sub.client)
			h.mu.Unlock()
			h.left(ctx, sub.client, sub.group)

		case ev := <-h.broadcast:
			h.publish(ctx, ev)
		}
	}
}

// removeLocked detaches client from its group and returns the group id.
func (h *Hub) removeLocked(client *Client) string {
	group, ok := h.joined[client]
	if !ok {
		return ""
	}
	delete(h.joined, client)
	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
	return group
}

func (h *Hub) left(ctx context.Context, client *Client, group string) {
	if err := h.members.SRem(ctx, membersKey(group), client.user.ID).Err(); err != nil {
		log.Warn().Err(err).Str("user", client.user.ID).Str("group", group).Msg("removing membership")
	}
	log.Info().Str("user", client.user.ID).Str("group", group).Msg("client left group")
	h.publish(ctx, presenceEvent(group, client.user.ID, "left"))
}

func presenceEvent(group, user, content string) *model.Event {
	return &model.Event{Type: model.EventPresence, GroupID: group, UserID: user, Content: content}
}

// publish stamps ev with a sequence number and writes it to the fanout topic.
func (h *Hub) publish(ctx context.Context, ev *model.Event) {
	ev.Seq = h.seq.Next()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Message != nil {
		ev.Message.Seq = ev.Seq
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("marshalling event")
		return
	}
	err = h.producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.GroupID),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		publishErrors.Inc()
		log.Error().Err(err).Str("group", ev.GroupID).Str("type", string(ev.Type)).Msg("writing event to kafka")
		return
	}
	eventsPublished.WithLabelValues(string(ev.Type)).Inc()
}

// Fanout consumes the topic and delivers each event to the clients joined to
// its group on this gateway.
func (h *Hub) Fanout(ctx context.Context, reader *kafka.Reader) error {
	defer reader.Close()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		h.deliver(m.Value)
	}
}

func (h *Hub) deliver(data []byte) {
	var head struct {
		GroupID string `json:"group_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.GroupID == "" {
		log.Warn().Err(err).Msg("dropping undeliverable fanout event")
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.groups[head.GroupID] {
		select {
		case client.send <- data:
			eventsDelivered.Inc()
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		slowClients.Inc()
		log.Warn().Str("user", client.user.ID).Str("group", head.GroupID).Msg("disconnecting slow client")
		go func(c *Client) { h.unregister <- c }(client)
	}
}
