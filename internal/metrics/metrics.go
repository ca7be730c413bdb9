package metrics

import "sync"

// Relay event names.
const (
	RoomsCreated       = "rooms_created"
	RoomsDestroyed     = "rooms_destroyed"
	Joins              = "joins"
	RoomFull           = "room_full"
	Rejoins            = "rejoins"
	Leaves             = "leaves"
	Relayed            = "relayed"
	DroppedNoRecipient = "dropped_no_recipient"
	DroppedNotMember   = "dropped_not_member"
	DroppedSendQueue   = "dropped_send_queue_full"
	ProtocolErrors     = "protocol_errors"
	Connections        = "connections"
)

// Metrics is a concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is safe on a nil receiver so callers can run without metrics.
func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
