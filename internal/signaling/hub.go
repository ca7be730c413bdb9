package signaling

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/tandem/internal/metrics"
	"github.com/BioHazard786/tandem/internal/protocol"
)

// Options tunes per-connection limits.
type Options struct {
	SendQueueSize  int
	MaxMessageSize int64
	PongWait       time.Duration
	WriteWait      time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

// Send pings to peer with this period. Must be less than PongWait.
func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Hub maintains the set of active clients and rooms.
//
// The hub's own lock only covers the room map and the client set. Pairing
// and relaying take the lock of the room involved, so traffic in one room
// never waits on another.
type Hub struct {
	opts    Options
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	rooms   map[string]*Room
	clients map[*Client]struct{}
}

// NewHub returns an empty hub. m may be nil.
func NewHub(opts Options, m *metrics.Metrics) *Hub {
	return &Hub{
		opts:    opts.withDefaults(),
		metrics: m,
		log:     log.With().Str("component", "hub").Logger(),
		rooms:   make(map[string]*Room),
		clients: make(map[*Client]struct{}),
	}
}

// Register records a new connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.Inc(metrics.Connections)
	c.log.Debug().Msg("Client connected")
}

// Unregister removes c from its room, if any, and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.leave(c, "connection closed")

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	c.closeSend()
	c.log.Debug().Msg("Client disconnected")
}

// Close closes every connection's send queue, which makes the write pumps
// send a close frame and hang up.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
	h.log.Info().Int("clients", len(clients)).Msg("Hub closed")
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Members returns a snapshot of a room's members, initiator first.
func (h *Hub) Members(roomID string) []Member {
	h.mu.Lock()
	room := h.rooms[roomID]
	h.mu.Unlock()
	if room == nil {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.membersLocked()
}

// Handle dispatches a validated message from c.
func (h *Hub) Handle(c *Client, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeJoin:
		h.join(c, msg)
	case protocol.TypeLeave:
		h.handleLeave(c, msg)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		h.relay(c, msg)
	default:
		h.metrics.Inc(metrics.ProtocolErrors)
		c.log.Warn().Str("type", string(msg.Type)).Msg("Client sent a server-only message type")
	}
}

// acquire returns the live room for id, creating it if needed.
func (h *Hub) acquire(id string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[id]
	if !ok {
		room = newRoom(id)
		h.rooms[id] = room
		h.metrics.Inc(metrics.RoomsCreated)
		h.log.Info().Str("room_id", id).Msg("Room created")
	}
	return room
}

func (h *Hub) join(c *Client, msg *protocol.Message) {
	if room, member := c.membership(); room != nil {
		if room.ID == msg.RoomID && member.PeerID == msg.PeerID {
			h.resendPairing(c, room, member)
			return
		}
		// Joining under another room or identity replaces the old membership.
		h.leave(c, "rejoined elsewhere")
	}

	for {
		room := h.acquire(msg.RoomID)
		room.mu.Lock()
		if room.closed {
			// Destroyed between lookup and lock; the map now holds a fresh one.
			room.mu.Unlock()
			continue
		}
		h.joinLocked(room, c, msg.PeerID)
		room.mu.Unlock()
		return
	}
}

func (h *Hub) joinLocked(room *Room, c *Client, peerID string) {
	l := c.log.With().Str("room_id", room.ID).Str("peer_id", peerID).Logger()

	// The same peer id arriving on a new connection is a reconnect; the stale
	// member is evicted so the peer can take a slot again. The old connection
	// is told its slot is gone and never rejoins on its own.
	if stale := room.findLocked(peerID); stale != nil && stale.client != c {
		h.metrics.Inc(metrics.Rejoins)
		h.removeLocked(room, stale)
		stale.client.clearMembership(room)
		stale.client.deliver(protocol.NewRoomFull(room.ID, peerID))
		l.Info().Msg("Replaced stale member")
	}

	switch room.lenLocked() {
	case 0:
		m := &Member{PeerID: peerID, Role: protocol.RoleInitiator, client: c}
		room.initiator = m
		c.setMembership(room, m)
		c.deliver(protocol.NewRole(room.ID, peerID, protocol.RoleInitiator))

	case 1:
		existing := room.soleLocked()
		m := &Member{PeerID: peerID, Role: protocol.RoleResponder, client: c}
		room.responder = m
		c.setMembership(room, m)
		c.deliver(protocol.NewRole(room.ID, peerID, protocol.RoleResponder))
		existing.client.deliver(protocol.NewPeerReady(room.ID, existing.PeerID, peerID))
		c.deliver(protocol.NewPeerReady(room.ID, peerID, existing.PeerID))

	default:
		h.metrics.Inc(metrics.RoomFull)
		c.deliver(protocol.NewRoomFull(room.ID, peerID))
		l.Info().Msg("Room full, join rejected")
		return
	}

	h.metrics.Inc(metrics.Joins)
	l.Info().Int("members", room.lenLocked()).Msg("Peer joined")
}

// resendPairing answers a repeated join on the same connection with the
// current role and, when paired, peer_ready again.
func (h *Hub) resendPairing(c *Client, room *Room, member *Member) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.containsLocked(member) {
		return
	}
	c.deliver(protocol.NewRole(room.ID, member.PeerID, member.Role))
	if other := room.otherLocked(member); other != nil {
		c.deliver(protocol.NewPeerReady(room.ID, member.PeerID, other.PeerID))
	}
}

// removeLocked takes m out of room and tells the remaining member. A
// remaining responder is promoted so a later joiner can pair with it.
func (h *Hub) removeLocked(room *Room, m *Member) bool {
	switch m {
	case room.initiator:
		room.initiator = nil
	case room.responder:
		room.responder = nil
	default:
		return false
	}

	other := room.soleLocked()
	if other == nil {
		return true
	}
	other.client.deliver(protocol.NewPeerLeft(room.ID, m.PeerID))
	if other.Role == protocol.RoleResponder {
		room.responder = nil
		room.initiator = other
		other.Role = protocol.RoleInitiator
		other.client.deliver(protocol.NewRole(room.ID, other.PeerID, protocol.RoleInitiator))
	}
	return true
}

func (h *Hub) handleLeave(c *Client, msg *protocol.Message) {
	room, member := c.membership()
	if room == nil || room.ID != msg.RoomID || member.PeerID != msg.PeerID {
		h.metrics.Inc(metrics.DroppedNotMember)
		c.log.Debug().Str("room_id", msg.RoomID).Msg("Leave from non-member ignored")
		return
	}
	h.leave(c, "left")
}

// leave removes c from its current room and destroys the room once empty.
func (h *Hub) leave(c *Client, reason string) {
	room, member := c.membership()
	if room == nil {
		return
	}

	room.mu.Lock()
	removed := h.removeLocked(room, member)
	destroyed := false
	if room.lenLocked() == 0 && !room.closed {
		room.closed = true
		h.mu.Lock()
		if h.rooms[room.ID] == room {
			delete(h.rooms, room.ID)
		}
		h.mu.Unlock()
		destroyed = true
	}
	room.mu.Unlock()

	c.clearMembership(room)

	l := c.log.With().Str("room_id", room.ID).Str("peer_id", member.PeerID).Logger()
	if removed {
		h.metrics.Inc(metrics.Leaves)
		l.Info().Str("reason", reason).Msg("Peer left")
	}
	if destroyed {
		h.metrics.Inc(metrics.RoomsDestroyed)
		l.Info().Msg("Room destroyed")
	}
}

// relay forwards a negotiation message from c to its partner, or to the
// member named by msg.To. Messages never echo back to the sender.
func (h *Hub) relay(c *Client, msg *protocol.Message) {
	room, member := c.membership()
	if room == nil || room.ID != msg.RoomID || member.PeerID != msg.PeerID {
		h.metrics.Inc(metrics.DroppedNotMember)
		c.log.Warn().
			Str("type", string(msg.Type)).
			Str("room_id", msg.RoomID).
			Str("peer_id", msg.PeerID).
			Msg("Dropping message from non-member")
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.containsLocked(member) {
		h.metrics.Inc(metrics.DroppedNotMember)
		return
	}

	var target *Member
	if msg.To != "" {
		if t := room.findLocked(msg.To); t != nil && t != member {
			target = t
		}
	} else {
		target = room.otherLocked(member)
	}
	if target == nil {
		h.metrics.Inc(metrics.DroppedNoRecipient)
		c.log.Debug().Str("type", string(msg.Type)).Str("to", msg.To).Msg("No recipient, dropping")
		return
	}

	if target.client.deliver(msg) {
		h.metrics.Inc(metrics.Relayed)
	}
}
