package peer

import (
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/tandem/internal/config"
	"github.com/BioHazard786/tandem/internal/protocol"
)

type staticMedia struct {
	tracks []webrtc.TrackLocal
}

func (m *staticMedia) Tracks() []webrtc.TrackLocal { return m.tracks }
func (m *staticMedia) Stop() error                 { return nil }

func newTestFactory(t *testing.T) Factory {
	t.Helper()
	api, err := NewAPI(nil)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	return NewPionFactory(api, Configuration(nil, false))
}

func newSession(t *testing.T, f Factory) Session {
	t.Helper()
	s, err := f()
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOfferAnswerBetweenSessions(t *testing.T) {
	f := newTestFactory(t)
	offerer, answerer := newSession(t, f), newSession(t, f)

	if err := offerer.Attach(nil); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if offerer.State() != StateAttached {
		t.Fatalf("state = %v", offerer.State())
	}

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if !strings.Contains(offer, "m=audio") || !strings.Contains(offer, "m=video") {
		t.Fatalf("offer lacks media sections:\n%s", offer)
	}
	if err := offerer.SetLocalDescription(Description{Type: SDPOffer, SDP: offer}); err != nil {
		t.Fatalf("SetLocalDescription(offer): %v", err)
	}

	if err := answerer.SetRemoteDescription(Description{Type: SDPOffer, SDP: offer}); err != nil {
		t.Fatalf("SetRemoteDescription(offer): %v", err)
	}
	answer, err := answerer.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := answerer.SetLocalDescription(Description{Type: SDPAnswer, SDP: answer}); err != nil {
		t.Fatalf("SetLocalDescription(answer): %v", err)
	}
	if err := offerer.SetRemoteDescription(Description{Type: SDPAnswer, SDP: answer}); err != nil {
		t.Fatalf("SetRemoteDescription(answer): %v", err)
	}
}

func TestAttachedTrackAppearsInOffer(t *testing.T) {
	f := newTestFactory(t)
	s := newSession(t, f)

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "tandem")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Attach(&staticMedia{tracks: []webrtc.TrackLocal{track}}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	offer, err := s.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if !strings.Contains(offer, "VP8") || !strings.Contains(offer, "a=sendrecv") {
		t.Fatalf("offer does not send VP8:\n%s", offer)
	}
}

func TestAddCandidateWithoutRemoteDescriptionFails(t *testing.T) {
	s := newSession(t, newTestFactory(t))
	mid := "0"
	err := s.AddCandidate(protocol.Candidate{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 5000 typ host",
		SDPMid:    &mid,
	})
	if !errors.Is(err, webrtc.ErrNoRemoteDescription) {
		t.Fatalf("AddCandidate = %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newSession(t, newTestFactory(t))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %v", s.State())
	}
	if err := s.Attach(nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Attach after close = %v", err)
	}
	if _, err := s.CreateOffer(); !errors.Is(err, ErrClosed) {
		t.Fatalf("CreateOffer after close = %v", err)
	}
}

func TestCandidateConversion(t *testing.T) {
	mid, idx, ufrag := "audio", uint16(1), "abcd"
	in := protocol.Candidate{Candidate: "candidate:x", SDPMid: &mid, SDPMLineIndex: &idx, UsernameFragment: &ufrag}
	out := FromICECandidateInit(ToICECandidateInit(in))
	if out.Candidate != in.Candidate || *out.SDPMid != mid || *out.SDPMLineIndex != idx || *out.UsernameFragment != ufrag {
		t.Fatalf("conversion lost fields: %+v", out)
	}
}

func TestConfigurationForceRelay(t *testing.T) {
	servers := []config.ICEServer{{URLs: []string{"turn:turn.example:3478"}, Username: "u", Credential: "p"}}
	cfg := Configuration(servers, true)
	if cfg.ICETransportPolicy != webrtc.ICETransportPolicyRelay {
		t.Fatalf("policy = %v", cfg.ICETransportPolicy)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].Credential != "p" {
		t.Fatalf("ice servers = %+v", cfg.ICEServers)
	}
	if Configuration(nil, false).ICETransportPolicy != webrtc.ICETransportPolicyAll {
		t.Fatalf("default policy not all")
	}
}
