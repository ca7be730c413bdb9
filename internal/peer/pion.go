package peer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/tandem/internal/config"
	"github.com/BioHazard786/tandem/internal/protocol"
)

// keyframeInterval is how often a picture loss indication is sent for each
// remote video track, so recordings and late decoders get keyframes.
const keyframeInterval = 3 * time.Second

// APIOption customizes the settings engine used by NewAPI.
type APIOption func(*webrtc.SettingEngine)

// WithNet makes ICE gather and connect over n instead of the host network.
func WithNet(n transport.Net) APIOption {
	return func(s *webrtc.SettingEngine) { s.SetNet(n) }
}

// NewAPI builds a pion API with the default codecs and interceptors. Pion's
// own logs go to loggerFactory when it is non-nil.
func NewAPI(loggerFactory logging.LoggerFactory, opts ...APIOption) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{}
	if loggerFactory != nil {
		s.LoggerFactory = loggerFactory
	}
	for _, opt := range opts {
		opt(&s)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	), nil
}

// Configuration converts the ICE settings into a pion configuration.
func Configuration(servers []config.ICEServer, forceRelay bool) webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if forceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// NewPionFactory returns a Factory creating pion-backed sessions.
func NewPionFactory(api *webrtc.API, cfg webrtc.Configuration) Factory {
	return func() (Session, error) {
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		return &pionSession{pc: pc, done: make(chan struct{})}, nil
	}
}

type pionSession struct {
	pc *webrtc.PeerConnection

	mu    sync.Mutex
	state State
	media LocalMedia
	done  chan struct{}
}

func (s *pionSession) CreateOffer() (string, error) {
	if s.State() == StateClosed {
		return "", ErrClosed
	}
	// An offer always carries audio and video sections, even without local
	// media, so the partner's tracks can flow back.
	if err := s.ensureRecvTransceivers(); err != nil {
		return "", err
	}
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (s *pionSession) ensureRecvTransceivers() error {
	have := map[webrtc.RTPCodecType]bool{}
	for _, t := range s.pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := s.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

func (s *pionSession) CreateAnswer() (string, error) {
	if s.State() == StateClosed {
		return "", ErrClosed
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (s *pionSession) SetLocalDescription(d Description) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	return s.pc.SetLocalDescription(desc)
}

func (s *pionSession) SetRemoteDescription(d Description) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	return s.pc.SetRemoteDescription(desc)
}

func toPion(d Description) (webrtc.SessionDescription, error) {
	switch d.Type {
	case SDPOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: d.SDP}, nil
	case SDPAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: d.SDP}, nil
	}
	return webrtc.SessionDescription{}, fmt.Errorf("unsupported description type %q", d.Type)
}

func (s *pionSession) AddCandidate(c protocol.Candidate) error {
	if s.pc.RemoteDescription() == nil {
		return webrtc.ErrNoRemoteDescription
	}
	return s.pc.AddICECandidate(ToICECandidateInit(c))
}

func (s *pionSession) OnCandidate(h func(protocol.Candidate)) {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		h(FromICECandidateInit(c.ToJSON()))
	})
}

func (s *pionSession) OnTrack(h func(RemoteTrack)) {
	s.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			go s.requestKeyframes(uint32(t.SSRC()))
		}
		h(t)
	})
}

func (s *pionSession) requestKeyframes(ssrc uint32) {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
				if errors.Is(err, webrtc.ErrConnectionClosed) {
					return
				}
				log.Debug().Err(err).Msg("Failed to send PLI")
			}
		}
	}
}

func (s *pionSession) OnConnectionState(h func(webrtc.PeerConnectionState)) {
	s.pc.OnConnectionStateChange(h)
}

// Attach adds every local track to the connection. Outgoing RTCP is drained
// so interceptors keep working.
func (s *pionSession) Attach(media LocalMedia) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrClosed
	}
	if media != nil {
		for _, track := range media.Tracks() {
			sender, err := s.pc.AddTrack(track)
			if err != nil {
				return fmt.Errorf("add track %s: %w", track.ID(), err)
			}
			go drainRTCP(sender)
		}
	}
	s.media = media
	s.state = StateAttached
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (s *pionSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close detaches every handler before closing, so no event reaches the
// caller afterwards. Local media is left running.
func (s *pionSession) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	close(s.done)
	s.mu.Unlock()

	s.pc.OnICECandidate(func(*webrtc.ICECandidate) {})
	s.pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})
	s.pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
	return s.pc.Close()
}

// ToICECandidateInit converts a wire candidate for pion.
func ToICECandidateInit(c protocol.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// FromICECandidateInit converts a pion candidate for the wire.
func FromICECandidateInit(c webrtc.ICECandidateInit) protocol.Candidate {
	return protocol.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
