package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/BioHazard786/tandem/internal/peer"
	"github.com/BioHazard786/tandem/internal/protocol"
)

func (c *Client) handleMessage(msg *protocol.Message) {
	l := c.log.With().Str("type", string(msg.Type)).Str("from", msg.PeerID).Logger()

	if msg.RoomID != c.opts.RoomID {
		c.drop(l, "message for another room")
		return
	}
	// Our own relayed messages are never processed. Server notices carry our
	// id as the recipient, so only peer-authored types are checked.
	if msg.Type.FromPeer() && msg.PeerID == c.opts.PeerID {
		c.drop(l, "own message echoed")
		return
	}
	if msg.To != "" && msg.To != c.opts.PeerID {
		c.drop(l, "addressed to another peer")
		return
	}

	switch msg.Type {
	case protocol.TypeRole:
		c.handleRole(msg)
	case protocol.TypePeerReady:
		c.handlePeerReady(msg)
	case protocol.TypeRoomFull:
		c.handleRoomFull()
	case protocol.TypeOffer:
		c.handleOffer(msg)
	case protocol.TypeAnswer:
		c.handleAnswer(msg)
	case protocol.TypeCandidate:
		c.handleCandidate(msg)
	case protocol.TypePeerLeft, protocol.TypeLeave:
		c.handlePeerLeft(msg.PeerID)
	default:
		c.drop(l, "unexpected message type")
	}
}

func (c *Client) drop(l zerolog.Logger, reason string) {
	c.count(func(s *Stats) { s.Dropped++ })
	l.Debug().Err(ErrProtocol).Msg(reason)
}

func (c *Client) handleRole(msg *protocol.Message) {
	if !c.joined {
		c.log.Debug().Msg("Role received while not joined")
		return
	}

	switch c.phase {
	case PhaseAwaitingRole, PhaseIdle:
	default:
		// A repeated role for a live session changes nothing.
		if msg.Role != c.role {
			c.log.Warn().Str("role", string(msg.Role)).Str("phase", string(c.phase)).Msg("Role change during session ignored")
		}
		return
	}

	promoted := c.role == protocol.RoleResponder && msg.Role == protocol.RoleInitiator
	c.role = msg.Role

	if c.role == protocol.RoleInitiator {
		if err := c.ensurePeer(); err != nil {
			c.fail("create peer session", err)
			return
		}
	}

	text := "assigned role " + string(c.role)
	if promoted {
		text = "promoted to initiator"
	}
	c.setPhase(PhaseAwaitingPeer, text, nil)
}

func (c *Client) handlePeerReady(msg *protocol.Message) {
	switch c.phase {
	case PhaseAwaitingPeer, PhaseIdle:
	default:
		if msg.Other == c.sess.partner {
			// Repeated pairing notice for the current partner.
			return
		}
		c.log.Warn().Str("other", msg.Other).Str("phase", string(c.phase)).Msg("New partner during session, restarting")
		c.teardown(false)
		c.setPhase(PhaseIdle, "partner changed", nil)
	}
	if !c.joined || c.role == "" {
		c.log.Debug().Msg("peer_ready before role, ignored")
		return
	}

	c.stopWait()
	c.sess.partner = msg.Other
	c.count(func(s *Stats) { s.Sessions++ })

	if c.role == protocol.RoleResponder {
		c.setPhase(PhaseAwaitingOffer, "paired with "+msg.Other, nil)
		return
	}

	c.setPhase(PhaseCreatingOffer, "paired with "+msg.Other, nil)
	if err := c.ensurePeer(); err != nil {
		c.fail("create peer session", err)
		return
	}
	sdp, err := c.sess.peer.CreateOffer()
	if err == nil {
		err = c.sess.peer.SetLocalDescription(peer.Description{Type: peer.SDPOffer, SDP: sdp})
	}
	if err != nil {
		c.fail("create offer", err)
		return
	}

	c.send(protocol.NewOffer(c.opts.RoomID, c.opts.PeerID, c.sess.partner, sdp))
	c.count(func(s *Stats) { s.OffersSent++ })
	c.setPhase(PhaseAwaitingAnswer, "offer sent", nil)
}

func (c *Client) handleRoomFull() {
	c.joined = false
	c.role = ""
	c.teardown(false)
	c.setPhase(PhaseIdle, "room "+c.opts.RoomID+" is full", NewError("join", ErrRoomFull))
}

func (c *Client) handleOffer(msg *protocol.Message) {
	switch {
	case c.phase == PhaseAwaitingOffer && msg.PeerID == c.sess.partner:

	case c.phase == PhaseConnected && c.role == protocol.RoleResponder && msg.PeerID == c.sess.partner:
		// Renegotiation from the partner on the existing session.

	case c.phase == PhaseAwaitingAnswer && msg.PeerID == c.sess.partner:
		// Both sides offered. The incoming offer wins: the in-flight one is
		// discarded together with its session, buffered candidates are kept.
		c.count(func(s *Stats) { s.Conflicts++ })
		c.log.Warn().Err(NewError("offer", ErrNegotiationConflict)).Msg("Offer received while awaiting answer, answering it instead")
		c.replacePeer()

	default:
		c.log.Debug().Str("phase", string(c.phase)).Str("from", msg.PeerID).Msg("Unexpected offer dropped")
		c.count(func(s *Stats) { s.Dropped++ })
		return
	}
	c.count(func(s *Stats) { s.OffersReceived++ })

	c.setPhase(PhaseAnswering, "answering offer", nil)
	if err := c.ensurePeer(); err != nil {
		c.fail("create peer session", err)
		return
	}
	if err := c.setRemote(peer.SDPOffer, msg.SDP); err != nil {
		c.fail("apply offer", err)
		return
	}

	sdp, err := c.sess.peer.CreateAnswer()
	if err == nil {
		err = c.sess.peer.SetLocalDescription(peer.Description{Type: peer.SDPAnswer, SDP: sdp})
	}
	if err != nil {
		c.fail("create answer", err)
		return
	}

	c.send(protocol.NewAnswer(c.opts.RoomID, c.opts.PeerID, c.sess.partner, sdp))
	c.count(func(s *Stats) { s.AnswersSent++ })
	c.setPhase(PhaseConnected, "answer sent", nil)
}

func (c *Client) handleAnswer(msg *protocol.Message) {
	if c.phase != PhaseAwaitingAnswer || msg.PeerID != c.sess.partner {
		// Typically a late answer for a session already torn down.
		c.log.Debug().Str("phase", string(c.phase)).Str("from", msg.PeerID).Msg("Unexpected answer dropped")
		c.count(func(s *Stats) { s.Dropped++ })
		return
	}
	c.count(func(s *Stats) { s.AnswersReceived++ })

	if err := c.setRemote(peer.SDPAnswer, msg.SDP); err != nil {
		c.fail("apply answer", err)
		return
	}
	c.setPhase(PhaseConnected, "answer received", nil)
}

// setRemote applies a remote description and then every buffered candidate
// in arrival order.
func (c *Client) setRemote(t peer.SDPType, sdp string) error {
	if err := c.sess.peer.SetRemoteDescription(peer.Description{Type: t, SDP: sdp}); err != nil {
		return err
	}
	c.sess.remoteSet = true

	pending := c.sess.pending
	c.sess.pending = nil
	for _, bc := range pending {
		if bc.from != c.sess.partner {
			c.log.Debug().Str("from", bc.from).Msg("Buffered candidate from non-partner skipped")
			c.count(func(s *Stats) { s.CandidatesDropped++ })
			continue
		}
		c.applyCandidate(bc.candidate)
	}
	return nil
}

func (c *Client) handleCandidate(msg *protocol.Message) {
	c.count(func(s *Stats) { s.CandidatesReceived++ })

	switch c.phase {
	case PhaseIdle, PhaseAwaitingRole, PhaseClosed:
		c.log.Debug().Str("phase", string(c.phase)).Msg("Candidate outside a session dropped")
		c.count(func(s *Stats) { s.CandidatesDropped++ })
		return
	}
	if c.sess.partner != "" && msg.PeerID != c.sess.partner {
		c.log.Debug().Str("from", msg.PeerID).Msg("Candidate from non-partner dropped")
		c.count(func(s *Stats) { s.CandidatesDropped++ })
		return
	}

	if c.sess.peer == nil || !c.sess.remoteSet {
		c.sess.pending = append(c.sess.pending, bufferedCandidate{from: msg.PeerID, candidate: *msg.Candidate})
		c.count(func(s *Stats) { s.CandidatesBuffered++ })
		return
	}
	c.applyCandidate(*msg.Candidate)
}

// applyCandidate logs and skips a candidate the session rejects.
func (c *Client) applyCandidate(cand protocol.Candidate) {
	if err := c.sess.peer.AddCandidate(cand); err != nil {
		c.count(func(s *Stats) { s.CandidatesFailed++ })
		c.log.Warn().Err(WrapError("add candidate", ErrCandidateApply, err)).Msg("Candidate skipped")
		return
	}
	c.count(func(s *Stats) { s.CandidatesApplied++ })
}

// handlePeerLeft ends the session but stays in the room, waiting for a new
// partner with the same role unless the relay promotes us.
func (c *Client) handlePeerLeft(departed string) {
	if c.sess.partner != "" && departed != c.sess.partner {
		c.log.Debug().Str("departed", departed).Msg("peer_left for non-partner ignored")
		return
	}
	if !c.joined {
		return
	}
	c.teardown(false)
	c.setPhase(PhaseIdle, "peer left", nil)
	c.armWait()
}

func (c *Client) localCandidate(e candidateEvent) {
	if e.gen != c.sess.gen {
		return
	}
	if c.sess.partner == "" {
		// Gathering started before pairing; the partner is unknown.
		c.log.Debug().Msg("Local candidate before pairing dropped")
		return
	}
	c.send(protocol.NewCandidate(c.opts.RoomID, c.opts.PeerID, c.sess.partner, e.candidate))
	c.count(func(s *Stats) { s.CandidatesSent++ })
}

// ensurePeer creates the session's peer and attaches local media once.
func (c *Client) ensurePeer() error {
	if c.sess.peer != nil {
		return nil
	}

	if c.media == nil && c.opts.OpenMedia != nil {
		m, err := c.opts.OpenMedia()
		if err != nil {
			return fmt.Errorf("open local media: %w", err)
		}
		c.media = m
	}

	p, err := c.opts.NewPeer()
	if err != nil {
		return err
	}

	gen := c.sess.gen
	p.OnCandidate(func(cand protocol.Candidate) {
		c.in.push(candidateEvent{gen: gen, candidate: cand})
	})
	p.OnTrack(func(t peer.RemoteTrack) {
		c.in.push(trackEvent{gen: gen, track: t})
	})
	p.OnConnectionState(func(s webrtc.PeerConnectionState) {
		c.in.push(connStateEvent{gen: gen, state: s})
	})

	if err := p.Attach(c.media); err != nil {
		p.Close()
		return fmt.Errorf("attach local media: %w", err)
	}
	c.sess.peer = p
	return nil
}

// replacePeer discards the current peer but keeps partner and buffered
// candidates. Events from the old peer are invalidated.
func (c *Client) replacePeer() {
	old := c.sess.peer
	c.gen++
	c.sess.gen = c.gen
	c.sess.peer = nil
	c.sess.remoteSet = false
	if old != nil {
		if err := old.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to close peer session")
		}
	}
}

// maxRestarts bounds consecutive pairing restarts before the room is left.
const maxRestarts = 3

// fail tears the session down after a negotiation error and pairs again
// through the relay. The leave tells the partner, the join makes the relay
// issue role and peer_ready to both sides. After maxRestarts failures in a
// row the client leaves the room for good.
func (c *Client) fail(op string, cause error) {
	err := WrapError(op, ErrNegotiation, cause)
	c.teardown(false)
	c.setPhase(PhaseIdle, op+" failed", err)
	if !c.joined {
		return
	}

	c.send(protocol.NewLeave(c.opts.RoomID, c.opts.PeerID))
	c.role = ""
	if c.restarts >= maxRestarts {
		c.joined = false
		c.teardown(true)
		c.setPhase(PhaseIdle, fmt.Sprintf("left room after %d failed negotiations", c.restarts+1), err)
		return
	}
	c.restarts++
	c.count(func(s *Stats) { s.Restarts++ })
	c.sendJoin()
}
