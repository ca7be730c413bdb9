package call

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/tandem/internal/config"
	"github.com/BioHazard786/tandem/internal/peer"
	"github.com/BioHazard786/tandem/internal/protocol"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     []*protocol.Message
	incoming chan *protocol.Message
	closed   bool
	once     sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan *protocol.Message, 64)}
}

func (f *fakeTransport) Send(m *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeTransport) Incoming() <-chan *protocol.Message { return f.incoming }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// hangup simulates the relay dropping the connection.
func (f *fakeTransport) hangup() {
	f.once.Do(func() { close(f.incoming) })
}

func (f *fakeTransport) messages() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Message(nil), f.sent...)
}

func (f *fakeTransport) last(t *testing.T) *protocol.Message {
	t.Helper()
	msgs := f.messages()
	if len(msgs) == 0 {
		t.Fatalf("nothing sent")
	}
	return msgs[len(msgs)-1]
}

func (f *fakeTransport) ofType(typ protocol.Type) []*protocol.Message {
	var out []*protocol.Message
	for _, m := range f.messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakePeer struct {
	id       int
	state    peer.State
	local    *peer.Description
	remote   *peer.Description
	applied  []string
	attached peer.LocalMedia

	offerErr error

	onCandidate func(protocol.Candidate)
	onTrack     func(peer.RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
}

func (p *fakePeer) CreateOffer() (string, error) {
	if p.offerErr != nil {
		return "", p.offerErr
	}
	return "offer-sdp", nil
}

func (p *fakePeer) CreateAnswer() (string, error) {
	if p.remote == nil {
		return "", errors.New("no remote offer")
	}
	return "answer-sdp", nil
}

func (p *fakePeer) SetLocalDescription(d peer.Description) error {
	p.local = &d
	return nil
}

func (p *fakePeer) SetRemoteDescription(d peer.Description) error {
	if d.SDP == "bad-sdp" {
		return errors.New("malformed sdp")
	}
	p.remote = &d
	return nil
}

func (p *fakePeer) AddCandidate(c protocol.Candidate) error {
	if p.remote == nil {
		return webrtc.ErrNoRemoteDescription
	}
	if c.Candidate == "bad" {
		return errors.New("unparseable candidate")
	}
	p.applied = append(p.applied, c.Candidate)
	return nil
}

func (p *fakePeer) OnCandidate(h func(protocol.Candidate))                { p.onCandidate = h }
func (p *fakePeer) OnTrack(h func(peer.RemoteTrack))                      { p.onTrack = h }
func (p *fakePeer) OnConnectionState(h func(webrtc.PeerConnectionState)) { p.onState = h }

func (p *fakePeer) Attach(m peer.LocalMedia) error {
	if p.state == peer.StateClosed {
		return peer.ErrClosed
	}
	p.attached = m
	p.state = peer.StateAttached
	return nil
}

func (p *fakePeer) State() peer.State { return p.state }

func (p *fakePeer) Close() error {
	p.state = peer.StateClosed
	return nil
}

type fakeMedia struct {
	stopped int
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return nil }
func (m *fakeMedia) Stop() error {
	m.stopped++
	return nil
}

type harness struct {
	t         *testing.T
	client    *Client
	transport *fakeTransport
	peers     []*fakePeer
	media     *fakeMedia
	opened    int
	statuses  []Status

	// offerErr is given to the next created peer.
	offerErr error
}

func newHarness(t *testing.T, self string) *harness {
	t.Helper()
	h := &harness{t: t, transport: newFakeTransport()}
	c, err := New(Options{
		RoomID: "room",
		PeerID: self,
		Dial: func(context.Context) (Transport, error) {
			return h.transport, nil
		},
		NewPeer: func() (peer.Session, error) {
			p := &fakePeer{id: len(h.peers), offerErr: h.offerErr}
			h.peers = append(h.peers, p)
			return p, nil
		},
		OpenMedia: func() (peer.LocalMedia, error) {
			h.opened++
			h.media = &fakeMedia{}
			return h.media, nil
		},
		OnStatus: func(s Status) { h.statuses = append(h.statuses, s) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.transport = h.transport
	h.client = c
	return h
}

func (h *harness) deliver(m *protocol.Message) {
	h.t.Helper()
	if err := m.Validate(); err != nil {
		h.t.Fatalf("test message invalid: %v", err)
	}
	h.client.handleMessage(m)
}

func (h *harness) peer() *fakePeer {
	h.t.Helper()
	if len(h.peers) == 0 {
		h.t.Fatalf("no peer created")
	}
	return h.peers[len(h.peers)-1]
}

func (h *harness) expectPhase(p Phase) {
	h.t.Helper()
	if h.client.phase != p {
		h.t.Fatalf("phase = %s, want %s", h.client.phase, p)
	}
}

// joinAs drives the client through join and role assignment.
func (h *harness) joinAs(role protocol.Role) {
	h.t.Helper()
	h.client.join()
	h.deliver(protocol.NewRole("room", h.client.opts.PeerID, role))
	h.expectPhase(PhaseAwaitingPeer)
}

// reported tells whether any status so far carried target.
func (h *harness) reported(target error) bool {
	for _, st := range h.statuses {
		if errors.Is(st.Err, target) {
			return true
		}
	}
	return false
}

func cand(line string) protocol.Candidate {
	mid := "0"
	return protocol.Candidate{Candidate: line, SDPMid: &mid}
}

func fastReconnect(attempts int) config.ReconnectPolicy {
	return config.ReconnectPolicy{Attempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

type fakeRemoteTrack struct {
	id string
}

func (t *fakeRemoteTrack) ID() string                { return t.id }
func (t *fakeRemoteTrack) StreamID() string          { return "stream" }
func (t *fakeRemoteTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }
func (t *fakeRemoteTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}}
}

func (t *fakeRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}
