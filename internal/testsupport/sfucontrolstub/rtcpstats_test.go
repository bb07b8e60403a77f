package sfucontrolstub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pion/rtcp"

	"bitriver-live/internal/sfu"
)

func marshalRTCP(t *testing.T, pkt rtcp.Packet) []byte {
	t.Helper()
	raw, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal rtcp packet: %v", err)
	}
	return raw
}

func TestRTCPStatsIngestAccumulatesFromReceiverReports(t *testing.T) {
	tracker := NewRTCPStats()

	first := &rtcp.ReceiverReport{
		SSRC: 1,
		Reports: []rtcp.ReceptionReport{
			{SSRC: 2, LastSequenceNumber: 999, TotalLost: 1, FractionLost: 0, Jitter: 900},
		},
	}
	if err := tracker.Ingest("producer-1", marshalRTCP(t, first)); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	stats := tracker.Get("producer-1")
	if stats.PacketsReceived != 999 {
		t.Fatalf("expected 999 packets received (1000 expected - 1 lost), got %d", stats.PacketsReceived)
	}
	if stats.JitterMs != 10 {
		t.Fatalf("expected 10ms jitter (900/90), got %v", stats.JitterMs)
	}

	second := &rtcp.ReceiverReport{
		SSRC: 1,
		Reports: []rtcp.ReceptionReport{
			{SSRC: 2, LastSequenceNumber: 1999, TotalLost: 2, FractionLost: 128, Jitter: 450},
		},
	}
	if err := tracker.Ingest("producer-1", marshalRTCP(t, second)); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	stats = tracker.Get("producer-1")
	if stats.PacketsReceived != 1998 {
		t.Fatalf("expected cumulative packets received to advance to 1998, got %d", stats.PacketsReceived)
	}
	if stats.PacketLossPercent <= 0 {
		t.Fatalf("expected non-zero packet loss percent, got %v", stats.PacketLossPercent)
	}
}

func TestRTCPStatsIngestRejectsGarbage(t *testing.T) {
	tracker := NewRTCPStats()
	if err := tracker.Ingest("producer-1", []byte{0x00, 0x01, 0x02}); err == nil {
		t.Fatal("expected malformed RTCP payload to fail to parse")
	}
}

func TestStubUseRTCPStatsBacksGetProducerStats(t *testing.T) {
	stub := New()
	tracker := NewRTCPStats()
	stub.UseRTCPStats(tracker)

	report := &rtcp.ReceiverReport{
		SSRC: 1,
		Reports: []rtcp.ReceptionReport{
			{SSRC: 2, LastSequenceNumber: 499, TotalLost: 0, Jitter: 90},
		},
	}
	if err := tracker.Ingest("producer-rtcp", marshalRTCP(t, report)); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	payload, err := json.Marshal(struct {
		ProducerID string `json:"producerId"`
	}{ProducerID: "producer-rtcp"})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	if err := stub.Send(context.Background(), sfu.Frame{
		Method:        sfu.MethodGetProducerStats,
		CorrelationID: "corr-1",
		Payload:       payload,
	}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	resp, err := stub.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv returned error: %v", err)
	}
	var stats sfu.ProducerStats
	if err := json.Unmarshal(resp.Payload, &stats); err != nil {
		t.Fatalf("unmarshal response payload: %v", err)
	}
	if stats.PacketsReceived != 500 {
		t.Fatalf("expected 500 packets received, got %d", stats.PacketsReceived)
	}
}
