package ws

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/metrics"
	"github.com/eventhub/chat-moderation/internal/protocol"
)

// Hub indexes live connections by id, by user and by subscribed group. It
// is the in-process delivery target for moderation updates.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	users  map[string]map[string]*Connection // user_id -> conn_id -> conn
	groups map[string]map[string]*Connection // group -> conn_id -> conn
	log    zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*Connection),
		users:  make(map[string]map[string]*Connection),
		groups: make(map[string]map[string]*Connection),
		log:    logger.With().Str("component", "ws-hub").Logger(),
	}
}

// Add registers c under its id and user.
func (h *Hub) Add(c *Connection) {
	h.mu.Lock()
	h.conns[c.ID] = c
	index(h.users, c.UserID, c)
	n := len(h.conns)
	h.mu.Unlock()
	metrics.ConnectionsTotal.Set(float64(n))
}

// Remove unregisters c from every index and closes it. It returns false if
// c was already gone, so racing removals clean up once.
func (h *Hub) Remove(c *Connection) bool {
	h.mu.Lock()
	if _, ok := h.conns[c.ID]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.conns, c.ID)
	unindex(h.users, c.UserID, c.ID)
	for group := range h.groups {
		unindex(h.groups, group, c.ID)
	}
	n := len(h.conns)
	h.mu.Unlock()

	metrics.ConnectionsTotal.Set(float64(n))
	_ = c.Close()
	return true
}

// Join subscribes c to group. It returns false if c is no longer registered.
func (h *Hub) Join(c *Connection, group string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID]; !ok {
		return false
	}
	index(h.groups, group, c)
	return true
}

// Leave unsubscribes c from group.
func (h *Hub) Leave(c *Connection, group string) {
	h.mu.Lock()
	unindex(h.groups, group, c.ID)
	h.mu.Unlock()
}

func (h *Hub) Get(id string) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Members returns the number of connections subscribed to group.
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// All returns a snapshot of every connection.
func (h *Hub) All() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// DeliverToUser writes ev to every connection of userID.
func (h *Hub) DeliverToUser(userID string, ev chat.MessageEvent) {
	h.deliver(h.snapshot(h.users, userID), ev)
}

// DeliverToGroup writes ev to every connection subscribed to group.
func (h *Hub) DeliverToGroup(group string, ev chat.MessageEvent) {
	h.deliver(h.snapshot(h.groups, group), ev)
}

func (h *Hub) snapshot(idx map[string]map[string]*Connection, key string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := idx[key]
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// deliver encodes ev once. A failed write is logged; the read loop or the
// heartbeat evicts the broken connection.
func (h *Hub) deliver(conns []*Connection, ev chat.MessageEvent) {
	if len(conns) == 0 {
		return
	}
	frame, err := protocol.MessageUpdated(ev)
	if err != nil {
		h.log.Error().Err(err).Str("message_id", ev.Message.ID).Msg("encode push failed")
		return
	}
	for _, c := range conns {
		if err := c.WriteMessage(frame); err != nil {
			h.log.Debug().Err(err).Str("conn_id", c.ID).Str("user_id", c.UserID).Msg("push write failed")
		}
	}
}

func index(idx map[string]map[string]*Connection, key string, c *Connection) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]*Connection)
		idx[key] = set
	}
	set[c.ID] = c
}

func unindex(idx map[string]map[string]*Connection, key, connID string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(idx, key)
	}
}
