package protocol

import (
	"errors"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func validCandidate() *Candidate {
	return &Candidate{
		Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
		SDPMid:        ptr("0"),
		SDPMLineIndex: ptr(uint16(0)),
	}
}

func TestValidate_AcceptsContractMessages(t *testing.T) {
	msgs := []*Message{
		NewJoin("r1", "a"),
		NewLeave("r1", "a"),
		NewRole("r1", "a", RoleInitiator),
		NewPeerReady("r1", "a", "b"),
		{Type: TypeRoomFull, RoomID: "r1"},
		NewPeerLeft("r1", "b"),
		NewOffer("r1", "a", "b", "v=0"),
		NewAnswer("r1", "b", "", "v=0"),
		NewCandidate("r1", "a", "b", *validCandidate()),
	}
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			t.Errorf("%s: unexpected error: %v", m.Type, err)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name string
		msg  *Message
	}{
		{"nil", nil},
		{"unknown type", &Message{Type: "hello", RoomID: "r1", PeerID: "a"}},
		{"missing room", &Message{Type: TypeJoin, PeerID: "a"}},
		{"missing peer", &Message{Type: TypeJoin, RoomID: "r1"}},
		{"offer without sdp", &Message{Type: TypeOffer, RoomID: "r1", PeerID: "a"}},
		{"answer without sdp", &Message{Type: TypeAnswer, RoomID: "r1", PeerID: "a"}},
		{"candidate without payload", &Message{Type: TypeCandidate, RoomID: "r1", PeerID: "a"}},
		{"candidate without line", &Message{Type: TypeCandidate, RoomID: "r1", PeerID: "a", Candidate: &Candidate{SDPMid: ptr("0")}}},
		{"candidate without mid or index", &Message{Type: TypeCandidate, RoomID: "r1", PeerID: "a", Candidate: &Candidate{Candidate: "candidate:1"}}},
		{"role without role", &Message{Type: TypeRole, RoomID: "r1", PeerID: "a"}},
		{"role with bogus role", NewRole("r1", "a", "leader")},
		{"peer_ready without other", &Message{Type: TypePeerReady, RoomID: "r1", PeerID: "a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("error %v does not wrap ErrInvalidMessage", err)
			}
		})
	}
}

func TestType_FromPeer(t *testing.T) {
	for _, typ := range []Type{TypeRole, TypePeerReady, TypeRoomFull, TypeJoin} {
		if typ.FromPeer() {
			t.Errorf("%s should not be peer-authored", typ)
		}
	}
	for _, typ := range []Type{TypeOffer, TypeAnswer, TypeCandidate, TypeLeave, TypePeerLeft} {
		if !typ.FromPeer() {
			t.Errorf("%s should be peer-authored", typ)
		}
	}
}
