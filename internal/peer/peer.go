// Package peer defines the peer-session contract the call state machine
// drives, and its pion implementation.
package peer

import (
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/tandem/internal/protocol"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("peer session closed")

// State is the session lifecycle.
type State int

const (
	StateCreated State = iota
	StateAttached
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAttached:
		return "attached"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// SDPType is the kind of a session description.
type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

type Description struct {
	Type SDPType
	SDP  string
}

// LocalMedia is captured media that can be attached to a session.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	Stop() error
}

// RemoteTrack is a media track received from the partner.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Session is one peer-to-peer media session with the partner.
//
// Handlers registered with the On* methods may be called from any
// goroutine and must not block.
type Session interface {
	CreateOffer() (string, error)
	CreateAnswer() (string, error)
	SetLocalDescription(Description) error
	SetRemoteDescription(Description) error

	// AddCandidate fails while no remote description is set.
	AddCandidate(protocol.Candidate) error

	OnCandidate(func(protocol.Candidate))
	OnTrack(func(RemoteTrack))
	OnConnectionState(func(webrtc.PeerConnectionState))

	Attach(LocalMedia) error
	State() State
	Close() error
}

// Factory creates a fresh session for each pairing.
type Factory func() (Session, error)
