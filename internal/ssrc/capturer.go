// Package ssrc implements the bind-sniff-release handshake described in
// spec.md §4.4: before the SFU Producer can be created, the gateway must
// learn the synchronization-source identifier the transcoder will stamp on
// its outgoing RTP packets, plus the transcoder's source address so the SFU
// PlainTransport can be connected to it.
package ssrc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/rtp"
)

// ErrCaptureTimeout is returned when no valid RTP datagram arrives within the
// configured window (spec.md §4.4, default 8s; surfaces as the
// SSRC_CAPTURE_FAILED error code at the API boundary).
var ErrCaptureTimeout = errors.New("ssrc: capture timed out")

// Result is what the capturer learned from the first valid RTP datagram.
type Result struct {
	SSRC       uint32
	SourceAddr *net.UDPAddr
}

// Config tunes the capture window and quiescence delay, and allows tests to
// substitute the UDP listener.
type Config struct {
	Timeout         time.Duration
	QuiescenceDelay time.Duration
	ListenUDP       func(port int) (net.PacketConn, error)
	ReadBufferBytes int

	// OnBound, if set, fires once the socket is bound and before the first
	// read — the caller's cue to start the transcoder (spec.md §4.4 step 3
	// follows step 2 exactly at this point, never before the socket exists).
	OnBound func()
}

const (
	defaultTimeout         = 8 * time.Second
	defaultQuiescenceDelay = 100 * time.Millisecond
	defaultReadBuffer      = 1500
	minRTPHeaderBytes      = 12
	rtpVersion             = 2
)

// Capture binds port, waits for the first packet that parses as a valid RTP
// header, and releases the socket before returning — handing the caller a
// port that is free again for the SFU to rebind (spec.md §4.4 step 5).
//
// Datagrams shorter than 12 bytes or with a version other than 2 are
// discarded silently; the capturer keeps listening until ctx is done or the
// configured timeout elapses.
func Capture(ctx context.Context, port int, cfg Config) (Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	quiescence := cfg.QuiescenceDelay
	if quiescence <= 0 {
		quiescence = defaultQuiescenceDelay
	}
	readBuf := cfg.ReadBufferBytes
	if readBuf <= 0 {
		readBuf = defaultReadBuffer
	}
	listen := cfg.ListenUDP
	if listen == nil {
		listen = func(port int) (net.PacketConn, error) {
			return net.ListenUDP("udp", &net.UDPAddr{Port: port})
		}
	}

	conn, err := listen(port)
	if err != nil {
		return Result{}, fmt.Errorf("ssrc: bind port %d: %w", port, err)
	}
	if cfg.OnBound != nil {
		cfg.OnBound()
	}

	captureCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := sniff(captureCtx, conn, readBuf)

	// Close before the caller proceeds, regardless of outcome, then let the
	// OS reclaim the port; spec.md §4.4 step 5 calls this quiescence a short
	// fixed delay rather than a polled check, since there is no portable way
	// to observe kernel socket teardown completion.
	_ = conn.Close()
	select {
	case <-time.After(quiescence):
	case <-ctx.Done():
	}

	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func sniff(ctx context.Context, conn net.PacketConn, readBufSize int) (Result, error) {
	deadlineDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		// Unblocks ReadFrom immediately on timeout/cancellation instead of
		// waiting for the OS read deadline granularity.
		_ = conn.SetReadDeadline(time.Now())
		close(deadlineDone)
	}()

	buf := make([]byte, readBufSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return Result{}, ErrCaptureTimeout
			default:
				return Result{}, fmt.Errorf("ssrc: read: %w", err)
			}
		}

		header, ok := parseSSRC(buf[:n])
		if !ok {
			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			udpAddr, err = net.ResolveUDPAddr("udp", addr.String())
			if err != nil {
				continue
			}
		}
		return Result{SSRC: header, SourceAddr: udpAddr}, nil
	}
}

// parseSSRC reports the SSRC of buf if it looks like a valid RTP header;
// otherwise ok is false and the datagram should be discarded per spec.md
// §4.4 ("version bits not RTP" / too-short datagrams).
func parseSSRC(buf []byte) (ssrc uint32, ok bool) {
	if len(buf) < minRTPHeaderBytes {
		return 0, false
	}
	version := buf[0] >> 6
	if version != rtpVersion {
		return 0, false
	}
	var header rtp.Header
	if _, err := header.Unmarshal(buf); err != nil {
		return 0, false
	}
	return header.SSRC, true
}
