package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/tandem/internal/config"
	"github.com/BioHazard786/tandem/internal/peer"
	"github.com/BioHazard786/tandem/internal/protocol"
)

// Transport is the persistent message channel to the relay.
type Transport interface {
	Send(*protocol.Message) error

	// Incoming is closed when the connection is lost.
	Incoming() <-chan *protocol.Message
	Close() error
}

// Dialer opens a new Transport.
type Dialer func(ctx context.Context) (Transport, error)

// Options configure a Client.
type Options struct {
	RoomID string
	PeerID string

	Dial    Dialer
	NewPeer peer.Factory

	// OpenMedia acquires local media for a new session. It is called again
	// after an explicit leave released the previous media. Nil means the
	// client only receives.
	OpenMedia func() (peer.LocalMedia, error)

	PeerWaitTimeout time.Duration
	Reconnect       config.ReconnectPolicy

	// OnStatus is called from the event loop after every change.
	OnStatus func(Status)

	// OnTrack is called from the event loop for each remote track.
	OnTrack func(peer.RemoteTrack)
}

type bufferedCandidate struct {
	from      string
	candidate protocol.Candidate
}

// session is the per-pairing state. It is replaced as a whole on teardown.
type session struct {
	gen       uint64
	partner   string
	peer      peer.Session
	pending   []bufferedCandidate
	remoteSet bool
	media     string
}

type event interface{}

type (
	joinEvent      struct{}
	leaveEvent     struct{}
	quitEvent      struct{}
	candidateEvent struct {
		gen       uint64
		candidate protocol.Candidate
	}
	trackEvent struct {
		gen   uint64
		track peer.RemoteTrack
	}
	connStateEvent struct {
		gen   uint64
		state webrtc.PeerConnectionState
	}
)

// Client is the signaling client state machine for one participant.
//
// All state is owned by the goroutine running Run. The exported methods
// only post events and are safe to call from anywhere.
type Client struct {
	opts Options
	log  zerolog.Logger
	in   *inbox

	transport Transport
	retryC    <-chan time.Time
	attempts  int

	phase  Phase
	role   protocol.Role
	joined bool
	gen    uint64
	sess   *session
	media  peer.LocalMedia

	// restarts counts pairing restarts since the last connected session.
	restarts int

	waitTimer    *time.Timer
	waitC        <-chan time.Time
	waitReported bool

	mu     sync.Mutex
	status Status
	stats  Stats
}

func New(opts Options) (*Client, error) {
	if opts.RoomID == "" || opts.PeerID == "" {
		return nil, errors.New("room id and peer id are required")
	}
	if opts.Dial == nil || opts.NewPeer == nil {
		return nil, errors.New("dialer and peer factory are required")
	}

	c := &Client{
		opts:  opts,
		log:   log.With().Str("room_id", opts.RoomID).Str("peer_id", opts.PeerID).Logger(),
		in:    newInbox(),
		phase: PhaseIdle,
	}
	c.sess = &session{}
	c.status = c.snapshot("", nil)
	return c, nil
}

// Join asks the loop to join the room.
func (c *Client) Join() { c.in.push(joinEvent{}) }

// Leave asks the loop to leave the room and release local media.
func (c *Client) Leave() { c.in.push(leaveEvent{}) }

// Close leaves the room if joined and makes Run return.
func (c *Client) Close() { c.in.push(quitEvent{}) }

// Status returns the latest status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Client) count(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

// Run dials the relay and processes events until Close is called, ctx is
// cancelled or the relay stays unreachable past the reconnect policy.
func (c *Client) Run(ctx context.Context) error {
	t, err := c.opts.Dial(ctx)
	if err != nil {
		return WrapError("connect to server", ErrTransport, err)
	}
	c.transport = t
	defer c.shutdown()

	for {
		var incoming <-chan *protocol.Message
		if c.transport != nil {
			incoming = c.transport.Incoming()
		}

		select {
		case <-ctx.Done():
			c.quit()
			return ctx.Err()

		case msg, ok := <-incoming:
			if !ok {
				if err := c.transportLost(); err != nil {
					return err
				}
				continue
			}
			c.handleMessage(msg)

		case <-c.in.ready:
			for _, ev := range c.in.drain() {
				if _, ok := ev.(quitEvent); ok {
					c.quit()
					return nil
				}
				c.handleEvent(ev)
			}

		case <-c.waitC:
			c.waitExpired()

		case <-c.retryC:
			if err := c.redial(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Client) shutdown() {
	c.stopWait()
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
}

// quit sends a final leave and releases everything.
func (c *Client) quit() {
	if c.joined {
		c.send(protocol.NewLeave(c.opts.RoomID, c.opts.PeerID))
	}
	c.joined = false
	c.role = ""
	c.teardown(true)
	c.setPhase(PhaseIdle, "left", nil)
}

func (c *Client) handleEvent(ev event) {
	switch e := ev.(type) {
	case joinEvent:
		c.join()
	case leaveEvent:
		c.leave()
	case candidateEvent:
		c.localCandidate(e)
	case trackEvent:
		if e.gen != c.sess.gen {
			return
		}
		c.log.Info().Str("track_id", e.track.ID()).Str("kind", e.track.Kind().String()).Msg("Remote track arrived")
		if c.opts.OnTrack != nil {
			c.opts.OnTrack(e.track)
		}
	case connStateEvent:
		if e.gen != c.sess.gen {
			return
		}
		c.sess.media = e.state.String()
		msg := "media " + e.state.String()
		var err error
		if e.state == webrtc.PeerConnectionStateFailed {
			err = NewError("media connection", ErrNegotiation)
		}
		c.report(msg, err)
	}
}

func (c *Client) join() {
	if c.joined && c.phase != PhaseIdle {
		c.log.Debug().Msg("Already joined")
		return
	}
	c.joined = true
	if c.transport == nil {
		c.report("will join after reconnecting", nil)
		return
	}
	c.sendJoin()
}

func (c *Client) sendJoin() {
	c.send(protocol.NewJoin(c.opts.RoomID, c.opts.PeerID))
	c.setPhase(PhaseAwaitingRole, "joining room "+c.opts.RoomID, nil)
	c.armWait()
}

func (c *Client) leave() {
	if !c.joined && c.phase == PhaseIdle {
		return
	}
	c.send(protocol.NewLeave(c.opts.RoomID, c.opts.PeerID))
	c.joined = false
	c.role = ""
	c.teardown(true)
	c.setPhase(PhaseIdle, "left room", nil)
}

// send writes to the relay. A failure is only logged: a dead connection
// surfaces as a closed Incoming channel.
func (c *Client) send(m *protocol.Message) {
	if c.transport == nil {
		c.log.Debug().Str("type", string(m.Type)).Msg("Not connected, message not sent")
		return
	}
	if err := c.transport.Send(m); err != nil {
		c.log.Warn().Err(err).Str("type", string(m.Type)).Msg("Failed to send message")
	}
}

// teardown releases the current session and replaces it. Local media is
// stopped only when stopMedia is set.
func (c *Client) teardown(stopMedia bool) {
	old := c.sess
	c.gen++
	c.sess = &session{gen: c.gen}
	c.stopWait()

	if old.peer != nil {
		if err := old.peer.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to close peer session")
		}
	}
	if stopMedia && c.media != nil {
		if err := c.media.Stop(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to stop local media")
		}
		c.media = nil
	}
	if old.peer != nil || len(old.pending) > 0 {
		c.setPhase(PhaseClosed, "session closed", nil)
	}
}

// transportLost tears the session down and schedules a redial.
func (c *Client) transportLost() error {
	c.transport.Close()
	c.transport = nil
	c.teardown(false)
	c.setPhase(PhaseIdle, "disconnected", NewError("signaling", ErrTransport))

	c.attempts = 0
	return c.scheduleRedial()
}

func (c *Client) scheduleRedial() error {
	p := c.opts.Reconnect
	if c.attempts >= p.Attempts {
		return DetailError("reconnect", ErrTransport, fmt.Sprintf("gave up after %d attempts", c.attempts))
	}
	c.attempts++
	delay := p.Delay(c.attempts)
	c.report(fmt.Sprintf("reconnecting in %s (attempt %d/%d)", delay, c.attempts, p.Attempts), nil)
	c.retryC = time.After(delay)
	return nil
}

func (c *Client) redial(ctx context.Context) error {
	c.retryC = nil
	t, err := c.opts.Dial(ctx)
	if err != nil {
		c.log.Warn().Err(err).Int("attempt", c.attempts).Msg("Reconnect failed")
		return c.scheduleRedial()
	}

	c.transport = t
	c.attempts = 0
	c.count(func(s *Stats) { s.Reconnects++ })
	c.report("reconnected", nil)

	// The relay forgot us with the old connection, so start over from idle.
	if c.joined {
		c.sendJoin()
	}
	return nil
}

func (c *Client) armWait() {
	c.stopWait()
	if c.opts.PeerWaitTimeout <= 0 {
		return
	}
	c.waitReported = false
	c.waitTimer = time.NewTimer(c.opts.PeerWaitTimeout)
	c.waitC = c.waitTimer.C
}

func (c *Client) stopWait() {
	if c.waitTimer != nil {
		c.waitTimer.Stop()
	}
	c.waitTimer = nil
	c.waitC = nil
}

// waitExpired reports once that nobody has joined yet. Joining is never
// retried automatically.
func (c *Client) waitExpired() {
	c.waitC = nil
	c.waitTimer = nil
	if c.waitReported || c.sess.partner != "" {
		return
	}
	switch c.phase {
	case PhaseAwaitingRole, PhaseAwaitingPeer, PhaseIdle:
		if c.joined {
			c.waitReported = true
			c.report("waiting for peer", nil)
		}
	}
}

func (c *Client) setPhase(p Phase, msg string, err error) {
	if p != c.phase {
		c.log.Debug().Str("from", string(c.phase)).Str("to", string(p)).Msg("Phase change")
	}
	c.phase = p
	if p == PhaseConnected {
		c.restarts = 0
	}
	c.report(msg, err)
}

func (c *Client) report(msg string, err error) {
	st := c.snapshot(msg, err)
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()

	if err != nil {
		c.log.Warn().Err(err).Str("phase", string(c.phase)).Msg(msg)
	}
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(st)
	}
}

func (c *Client) snapshot(msg string, err error) Status {
	return Status{
		Phase:     c.phase,
		Lifecycle: c.phase.Lifecycle(),
		RoomID:    c.opts.RoomID,
		PeerID:    c.opts.PeerID,
		Role:      c.role,
		Partner:   c.sess.partner,
		Joined:    c.joined,
		Media:     c.sess.media,
		Message:   msg,
		Err:       err,
		Time:      time.Now(),
	}
}
