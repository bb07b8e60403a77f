package ssrc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
)

// fakePacketConn feeds a scripted sequence of datagrams to ReadFrom, then
// blocks until a read deadline is set (simulating a quiet socket).
type fakePacketConn struct {
	datagrams  [][]byte
	from       net.Addr
	idx        int
	deadline   time.Time
	deadlineCh chan struct{}
}

func newFakePacketConn(from net.Addr, datagrams ...[]byte) *fakePacketConn {
	return &fakePacketConn{datagrams: datagrams, from: from, deadlineCh: make(chan struct{}, 1)}
}

func (f *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	if f.idx < len(f.datagrams) {
		d := f.datagrams[f.idx]
		f.idx++
		n := copy(p, d)
		return n, f.from, nil
	}
	<-f.deadlineCh
	return 0, nil, net.ErrClosed
}

func (f *fakePacketConn) SetReadDeadline(time.Time) error {
	select {
	case f.deadlineCh <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakePacketConn) Close() error                       { return nil }
func (f *fakePacketConn) LocalAddr() net.Addr                 { return f.from }
func (f *fakePacketConn) WriteTo([]byte, net.Addr) (int, error) { return 0, nil }
func (f *fakePacketConn) SetDeadline(time.Time) error         { return nil }
func (f *fakePacketConn) SetWriteDeadline(time.Time) error    { return nil }

func rtpPacket(t *testing.T, ssrcVal uint32) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: 1,
			Timestamp:      1000,
			SSRC:           ssrcVal,
		},
		Payload: []byte{0x01, 0x02},
	}
	buf, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal rtp packet: %v", err)
	}
	return buf
}

func TestCaptureExtractsSSRCFromFirstValidPacket(t *testing.T) {
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 40000}
	garbage := []byte{0x00, 0x01} // too short, must be discarded
	valid := rtpPacket(t, 0xDEADBEEF)
	conn := newFakePacketConn(from, garbage, valid)

	cfg := Config{
		Timeout:         time.Second,
		QuiescenceDelay: time.Millisecond,
		ListenUDP:       func(int) (net.PacketConn, error) { return conn, nil },
	}
	result, err := Capture(context.Background(), 20200, cfg)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if result.SSRC != 0xDEADBEEF {
		t.Fatalf("expected SSRC 0xDEADBEEF, got %#x", result.SSRC)
	}
	if result.SourceAddr.Port != 40000 {
		t.Fatalf("expected source port 40000, got %d", result.SourceAddr.Port)
	}
}

func TestCaptureTimesOutWithNoDatagrams(t *testing.T) {
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 40000}
	conn := newFakePacketConn(from)

	cfg := Config{
		Timeout:         20 * time.Millisecond,
		QuiescenceDelay: time.Millisecond,
		ListenUDP:       func(int) (net.PacketConn, error) { return conn, nil },
	}
	_, err := Capture(context.Background(), 20200, cfg)
	if err != ErrCaptureTimeout {
		t.Fatalf("expected ErrCaptureTimeout, got %v", err)
	}
}

func TestCaptureDiscardsNonRTPVersion(t *testing.T) {
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 40000}
	nonRTP := make([]byte, 12) // all zero bytes: version bits are 0, not 2
	valid := rtpPacket(t, 0x1234)
	conn := newFakePacketConn(from, nonRTP, valid)

	cfg := Config{
		Timeout:         time.Second,
		QuiescenceDelay: time.Millisecond,
		ListenUDP:       func(int) (net.PacketConn, error) { return conn, nil },
	}
	result, err := Capture(context.Background(), 20200, cfg)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if result.SSRC != 0x1234 {
		t.Fatalf("expected SSRC 0x1234, got %#x", result.SSRC)
	}
}
