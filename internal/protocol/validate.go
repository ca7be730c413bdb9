package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalidMessage is the root of every validation failure.
var ErrInvalidMessage = errors.New("invalid signaling message")

// ValidationError describes why a message was rejected.
type ValidationError struct {
	Type   Type
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%v: %s", ErrInvalidMessage, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrInvalidMessage, e.Type, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidMessage
}

func invalid(t Type, reason string) error {
	return &ValidationError{Type: t, Reason: reason}
}

// Validate checks m against the message contract.
func (m *Message) Validate() error {
	if m == nil {
		return invalid("", "empty message")
	}
	if !m.Type.Known() {
		return invalid(m.Type, "unknown type")
	}
	if m.RoomID == "" {
		return invalid(m.Type, "missing roomId")
	}
	if m.PeerID == "" && m.Type != TypeRoomFull {
		return invalid(m.Type, "missing peerId")
	}

	switch m.Type {
	case TypeRole:
		if !m.Role.Valid() {
			return invalid(m.Type, fmt.Sprintf("unknown role %q", m.Role))
		}
	case TypePeerReady:
		if m.Other == "" {
			return invalid(m.Type, "missing other")
		}
	case TypeOffer, TypeAnswer:
		if m.SDP == "" {
			return invalid(m.Type, "missing sdp")
		}
	case TypeCandidate:
		if err := m.Candidate.validate(); err != nil {
			return invalid(m.Type, err.Error())
		}
	}
	return nil
}

func (c *Candidate) validate() error {
	switch {
	case c == nil:
		return errors.New("missing candidate")
	case c.Candidate == "":
		return errors.New("missing candidate line")
	case c.SDPMid == nil && c.SDPMLineIndex == nil:
		return errors.New("candidate needs sdpMid or sdpMLineIndex")
	}
	return nil
}
