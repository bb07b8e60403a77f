package sfucontrolstub

import (
	"encoding/json"
	"sync"

	"github.com/pion/rtcp"

	"bitriver-live/internal/sfu"
)

// RTCPStats accumulates get-producer-stats responses from real RTCP
// receiver reports instead of a hand-set number, the way the production
// SFU worker itself would derive PacketsReceived/JitterMs/PacketLossPercent
// from the RTCP traffic flowing over a producer's transport. Tests wire an
// RTCPStats into a Stub with Stub.UseRTCPStats so the Health Monitor's
// "packets flat" readiness check can be driven by actually-parsed RTCP
// packets rather than synthetic counters.
type RTCPStats struct {
	mu    sync.Mutex
	stats map[string]sfu.ProducerStats
}

// NewRTCPStats constructs an empty tracker.
func NewRTCPStats() *RTCPStats {
	return &RTCPStats{stats: make(map[string]sfu.ProducerStats)}
}

// Ingest parses a raw RTCP compound packet and folds any receiver or
// sender report it contains into producerID's running stats.
func (r *RTCPStats) Ingest(producerID string, raw []byte) error {
	packets, err := rtcp.Unmarshal(raw)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.stats[producerID]
	for _, pkt := range packets {
		switch p := pkt.(type) {
		case *rtcp.ReceiverReport:
			for _, rep := range p.Reports {
				applyReceptionReport(&current, rep)
			}
		case *rtcp.SenderReport:
			for _, rep := range p.Reports {
				applyReceptionReport(&current, rep)
			}
		}
	}
	r.stats[producerID] = current
	return nil
}

// applyReceptionReport folds one RTCP reception-report block into the
// running ProducerStats. LastSequenceNumber is the extended highest
// sequence number received, so (LastSequenceNumber+1 - TotalLost) is the
// cumulative count of packets actually received this session.
func applyReceptionReport(stats *sfu.ProducerStats, rep rtcp.ReceptionReport) {
	expected := uint64(rep.LastSequenceNumber) + 1
	received := expected
	if lost := uint64(rep.TotalLost); lost < expected {
		received = expected - lost
	} else {
		received = 0
	}
	if received > stats.PacketsReceived {
		stats.PacketsReceived = received
	}
	// Jitter is reported in RTP timestamp units; a 90kHz video clock is
	// the only codec this gateway produces (spec.md §4.1 transcoder
	// output), so dividing by 90 converts to milliseconds.
	stats.JitterMs = float64(rep.Jitter) / 90.0
	stats.PacketLossPercent = float64(rep.FractionLost) / 255.0 * 100
}

// Get returns the accumulated stats for producerID.
func (r *RTCPStats) Get(producerID string) sfu.ProducerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats[producerID]
	stats.ProducerID = producerID
	return stats
}

// UseRTCPStats installs tracker as the backing store for the stub's
// get-producer-stats handler, so responses reflect actually-ingested RTCP
// reports rather than the package's static default.
func (s *Stub) UseRTCPStats(tracker *RTCPStats) {
	s.SetHandler(sfu.MethodGetProducerStats, func(_ string, payload []byte) sfu.Frame {
		var params struct {
			ProducerID string `json:"producerId"`
		}
		_ = json.Unmarshal(payload, &params)
		return okFrame(tracker.Get(params.ProducerID))
	})
}
