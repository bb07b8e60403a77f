// Package portbroker hands out UDP ports from a configured range for RTP
// ingress, one per active stream (spec.md §4.1).
//
// The deterministic hash-derived candidate is only an optimisation; the
// authoritative ownership record is the in-memory map guarded by mu, mirroring
// the way internal/storage treats its derived indexes as caches over the
// dataset rather than sources of truth.
package portbroker

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"sync"
)

// ErrNoPortsAvailable is returned when the configured range is exhausted.
var ErrNoPortsAvailable = errors.New("portbroker: no ports available")

// Config bounds the UDP port range the broker allocates from.
type Config struct {
	Min int
	Max int

	// MaxProbeAttempts caps how many candidate ports are walked before giving
	// up on a reservation. Defaults to the size of the range when zero.
	MaxProbeAttempts int

	// ListenUDP is overridable for tests that want to simulate bind
	// failures/collisions without opening real sockets.
	ListenUDP func(port int) (net.PacketConn, error)
}

// Broker deterministically derives and reserves UDP ports per stream.
type Broker struct {
	min, max int
	maxProbe int
	listen   func(port int) (net.PacketConn, error)

	mu      sync.Mutex
	holders map[int]string // port -> stream_id
	byOwner map[string]int // stream_id -> port
}

// New constructs a Broker for the given inclusive [Min, Max] range.
func New(cfg Config) (*Broker, error) {
	if cfg.Min <= 0 || cfg.Max <= 0 || cfg.Min > cfg.Max {
		return nil, fmt.Errorf("portbroker: invalid range [%d,%d]", cfg.Min, cfg.Max)
	}
	size := cfg.Max - cfg.Min + 1
	maxProbe := cfg.MaxProbeAttempts
	if maxProbe <= 0 {
		maxProbe = size
	}
	listen := cfg.ListenUDP
	if listen == nil {
		listen = defaultListenUDP
	}
	return &Broker{
		min:      cfg.Min,
		max:      cfg.Max,
		maxProbe: maxProbe,
		listen:   listen,
		holders:  make(map[int]string),
		byOwner:  make(map[string]int),
	}, nil
}

func defaultListenUDP(port int) (net.PacketConn, error) {
	return net.ListenUDP("udp", &net.UDPAddr{Port: port})
}

// Reserve derives a candidate port via a hash of streamID mod the configured
// range, probes liveness with a non-blocking bind, and on collision walks
// forward with capped retries. It is idempotent: reserving again for a
// stream_id that already holds a port returns that same port.
func (b *Broker) Reserve(streamID string) (int, error) {
	if streamID == "" {
		return 0, errors.New("portbroker: streamID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.byOwner[streamID]; ok {
		return existing, nil
	}

	size := b.max - b.min + 1
	start := hashToRange(streamID, size)

	attempts := b.maxProbe
	if attempts > size {
		attempts = size
	}
	for i := 0; i < attempts; i++ {
		candidate := b.min + (start+i)%size
		if _, taken := b.holders[candidate]; taken {
			continue
		}
		if !b.probe(candidate) {
			continue
		}
		b.holders[candidate] = streamID
		b.byOwner[streamID] = candidate
		return candidate, nil
	}
	return 0, ErrNoPortsAvailable
}

// Release reclaims the port held by streamID. It is idempotent: releasing a
// stream that holds no port is a no-op. The port becomes available for
// immediate re-reservation.
func (b *Broker) Release(streamID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	port, ok := b.byOwner[streamID]
	if !ok {
		return
	}
	delete(b.byOwner, streamID)
	delete(b.holders, port)
}

// HeldBy reports the port currently reserved for streamID, if any.
func (b *Broker) HeldBy(streamID string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	port, ok := b.byOwner[streamID]
	return port, ok
}

// HolderOf reports which stream currently owns port, if any.
func (b *Broker) HolderOf(port int) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.holders[port]
	return id, ok
}

// probe attempts a non-blocking bind to confirm the candidate port is free on
// the host. The listener is closed immediately; the actual RTP socket is
// opened later by the SSRC capturer.
func (b *Broker) probe(port int) bool {
	conn, err := b.listen(port)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func hashToRange(streamID string, size int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(streamID))
	return int(h.Sum32() % uint32(size))
}
