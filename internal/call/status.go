package call

import (
	"time"

	"github.com/BioHazard786/tandem/internal/protocol"
)

// Phase is the state machine position.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseAwaitingRole   Phase = "awaiting_role"
	PhaseAwaitingPeer   Phase = "awaiting_peer"
	PhaseCreatingOffer  Phase = "creating_offer"
	PhaseAwaitingOffer  Phase = "awaiting_offer"
	PhaseAnswering      Phase = "answering"
	PhaseAwaitingAnswer Phase = "awaiting_answer"
	PhaseConnected      Phase = "connected"
	PhaseClosed         Phase = "closed"
)

// Lifecycle is the coarse session flag.
type Lifecycle string

const (
	LifecycleIdle       Lifecycle = "idle"
	LifecycleConnecting Lifecycle = "connecting"
	LifecycleConnected  Lifecycle = "connected"
	LifecycleClosed     Lifecycle = "closed"
)

func (p Phase) Lifecycle() Lifecycle {
	switch p {
	case PhaseIdle:
		return LifecycleIdle
	case PhaseConnected:
		return LifecycleConnected
	case PhaseClosed:
		return LifecycleClosed
	}
	return LifecycleConnecting
}

// Status is what the client reports to its observer after every change.
type Status struct {
	Phase     Phase
	Lifecycle Lifecycle
	RoomID    string
	PeerID    string
	Role      protocol.Role
	Partner   string
	Joined    bool

	// Media is the peer connection's state once a session exists.
	Media string

	Message string
	Err     error
	Time    time.Time
}

// Stats counts negotiation events over the client's lifetime.
type Stats struct {
	Sessions           int
	OffersSent         int
	OffersReceived     int
	AnswersSent        int
	AnswersReceived    int
	CandidatesSent     int
	CandidatesReceived int
	CandidatesBuffered int
	CandidatesApplied  int
	CandidatesFailed   int
	CandidatesDropped  int
	Conflicts          int
	Reconnects         int
	Restarts           int
	Dropped            int
}
