package signaling

import (
	"sync"

	"github.com/BioHazard786/tandem/internal/protocol"
)

// Member is one peer inside a room.
type Member struct {
	PeerID string
	Role   protocol.Role

	// client is the connection that joined as this member.
	client *Client
}

// Room represents a single room where two peers (initiator and responder)
// can connect. All fields below mu are guarded by it.
type Room struct {
	// ID is the room name chosen by the clients.
	ID string

	mu sync.Mutex

	// initiator is the member that creates the offer (Peer A).
	initiator *Member

	// responder is the member that answers it (Peer B).
	responder *Member

	// closed is set once the room has been removed from the hub; a joiner
	// that raced with the removal must look the room up again.
	closed bool
}

func newRoom(id string) *Room {
	return &Room{ID: id}
}

func (r *Room) lenLocked() int {
	n := 0
	if r.initiator != nil {
		n++
	}
	if r.responder != nil {
		n++
	}
	return n
}

// soleLocked returns the only member of a room holding exactly one.
func (r *Room) soleLocked() *Member {
	if r.initiator != nil {
		return r.initiator
	}
	return r.responder
}

func (r *Room) otherLocked(m *Member) *Member {
	switch m {
	case r.initiator:
		return r.responder
	case r.responder:
		return r.initiator
	}
	return nil
}

func (r *Room) findLocked(peerID string) *Member {
	for _, m := range []*Member{r.initiator, r.responder} {
		if m != nil && m.PeerID == peerID {
			return m
		}
	}
	return nil
}

func (r *Room) containsLocked(m *Member) bool {
	return m != nil && (m == r.initiator || m == r.responder)
}

// membersLocked returns copies of the members in role order.
func (r *Room) membersLocked() []Member {
	var out []Member
	for _, m := range []*Member{r.initiator, r.responder} {
		if m != nil {
			out = append(out, Member{PeerID: m.PeerID, Role: m.Role})
		}
	}
	return out
}
