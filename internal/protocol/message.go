package protocol

// Type identifies a signaling message variant.
type Type string

// Message type constants.
const (
	TypeJoin      Type = "join"
	TypeRole      Type = "role"
	TypePeerReady Type = "peer_ready"
	TypeRoomFull  Type = "room_full"
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
	TypeLeave     Type = "leave"
	TypePeerLeft  Type = "peer_left"
)

// Known reports whether t is part of the message contract.
func (t Type) Known() bool {
	switch t {
	case TypeJoin, TypeRole, TypePeerReady, TypeRoomFull,
		TypeOffer, TypeAnswer, TypeCandidate, TypeLeave, TypePeerLeft:
		return true
	}
	return false
}

// FromPeer reports whether messages of this type are authored by a room
// member (as opposed to notifications generated by the relay server). Only
// these carry the sender's id in PeerID.
func (t Type) FromPeer() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeLeave, TypePeerLeft:
		return true
	}
	return false
}

// Relayed reports whether the server forwards this type between members.
func (t Type) Relayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate:
		return true
	}
	return false
}

// Role is the part a member plays in negotiation.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleResponder
}

// Candidate is a trickled ICE candidate in the browser's RTCIceCandidateInit
// shape.
type Candidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

// Message is the single envelope used in both directions. Which payload
// fields are set depends on Type.
type Message struct {
	Type      Type       `json:"type" msgpack:"type"`
	RoomID    string     `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	PeerID    string     `json:"peerId,omitempty" msgpack:"peerId,omitempty"`
	To        string     `json:"to,omitempty" msgpack:"to,omitempty"`
	Role      Role       `json:"role,omitempty" msgpack:"role,omitempty"`
	Other     string     `json:"other,omitempty" msgpack:"other,omitempty"`
	SDP       string     `json:"sdp,omitempty" msgpack:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
}

func NewJoin(roomID, peerID string) *Message {
	return &Message{Type: TypeJoin, RoomID: roomID, PeerID: peerID}
}

func NewLeave(roomID, peerID string) *Message {
	return &Message{Type: TypeLeave, RoomID: roomID, PeerID: peerID}
}

// NewRole tells recipient which role the server assigned it.
func NewRole(roomID, recipient string, role Role) *Message {
	return &Message{Type: TypeRole, RoomID: roomID, PeerID: recipient, Role: role}
}

// NewPeerReady tells recipient who its partner is.
func NewPeerReady(roomID, recipient, other string) *Message {
	return &Message{Type: TypePeerReady, RoomID: roomID, PeerID: recipient, Other: other}
}

func NewRoomFull(roomID, recipient string) *Message {
	return &Message{Type: TypeRoomFull, RoomID: roomID, PeerID: recipient}
}

// NewPeerLeft announces that departed is no longer in the room.
func NewPeerLeft(roomID, departed string) *Message {
	return &Message{Type: TypePeerLeft, RoomID: roomID, PeerID: departed}
}

func NewOffer(roomID, from, to, sdp string) *Message {
	return &Message{Type: TypeOffer, RoomID: roomID, PeerID: from, To: to, SDP: sdp}
}

func NewAnswer(roomID, from, to, sdp string) *Message {
	return &Message{Type: TypeAnswer, RoomID: roomID, PeerID: from, To: to, SDP: sdp}
}

func NewCandidate(roomID, from, to string, c Candidate) *Message {
	return &Message{Type: TypeCandidate, RoomID: roomID, PeerID: from, To: to, Candidate: &c}
}
