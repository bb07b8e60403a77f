package sfu

import (
	"github.com/pion/webrtc/v4"
)

// Method names for the remote calls the control client exposes, per spec.md
// §4.2. These are the "type" discriminators carried on the wire, replacing
// the duck-typed JSON payloads the design notes (§9) call out.
const (
	MethodGetRouterRTPCapabilities = "get-router-rtp-capabilities"
	MethodCreatePlainTransport     = "create-plain-transport"
	MethodConnectPlainTransport    = "connect-plain-transport"
	MethodCreateProducer           = "create-producer"
	MethodCreateWebRTCTransport    = "create-webrtc-transport"
	MethodConnectWebRTCTransport   = "connect-webrtc-transport"
	MethodCreateConsumer           = "create-consumer"
	MethodCloseProducer            = "close-producer"
	MethodCloseTransport           = "close-transport"
	MethodCloseTransportsForRoom   = "close-transports-for-room"
	MethodGetProducerStats         = "get-producer-stats"
	MethodGetAllProducerStats      = "get-all-producer-stats"
)

// RouterRTPCapabilities is the opaque blob the client loads into its own SFU
// client library (spec.md §6, GET .../router-capabilities). The gateway never
// interprets its contents beyond passing it through.
type RouterRTPCapabilities struct {
	Codecs           []webrtc.RTPCodecCapability `json:"codecs"`
	HeaderExtensions []string                    `json:"headerExtensions,omitempty"`
}

// CreatePlainTransportParams requests a PlainTransport for RTSP/RTP ingress.
// FixedPort pins the listening port to the one the SSRC Capturer just
// released, per the bind-sniff-release-rebind sequence in spec.md §4.4.
type CreatePlainTransportParams struct {
	RoomID    string `json:"roomId"`
	FixedPort int    `json:"fixedPort"`
}

// PlainTransportInfo is returned after creation and used to direct the
// transcoder's RTP output.
type PlainTransportInfo struct {
	TransportID string `json:"transportId"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
}

// ConnectPlainTransportParams binds the transport to the transcoder's source
// address, learned by the SSRC Capturer from the first inbound datagram.
type ConnectPlainTransportParams struct {
	TransportID string `json:"transportId"`
	RemoteIP    string `json:"remoteIp"`
	RemotePort  int    `json:"remotePort"`
}

// RTPEncodingParameters pins the SSRC the transcoder will stamp its packets
// with, captured before the Producer is created (spec.md §4.4).
type RTPEncodingParameters struct {
	SSRC uint32 `json:"ssrc"`
}

// CreateProducerParams requests an ingress Producer on a PlainTransport.
type CreateProducerParams struct {
	TransportID string                  `json:"transportId"`
	Kind        string                  `json:"kind"`
	Codecs      []webrtc.RTPCodecCapability `json:"codecs"`
	Encodings   []RTPEncodingParameters `json:"encodings"`
}

// ProducerInfo identifies the created Producer.
type ProducerInfo struct {
	ProducerID string `json:"producerId"`
	State      string `json:"state"`
}

// CreateWebRTCTransportParams requests a consumer-facing WebRTC transport.
type CreateWebRTCTransportParams struct {
	RoomID         string `json:"roomId"`
	AnnouncedIP    string `json:"announcedIp,omitempty"`
}

// WebRTCTransportInfo carries the ICE/DTLS parameters the browser client
// needs to complete its side of the handshake.
type WebRTCTransportInfo struct {
	TransportID    string                 `json:"transportId"`
	ICEParameters  webrtc.ICEParameters   `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate  `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters  `json:"dtlsParameters"`
}

// ConnectWebRTCTransportParams completes the DTLS handshake once the client
// has posted its own parameters (spec.md §4.6).
type ConnectWebRTCTransportParams struct {
	TransportID    string                `json:"transportId"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// CreateConsumerParams requests an egress Consumer for a client's RTP
// capabilities against a given Producer. The SFU's canConsume must accept
// rtpCapabilities or the call fails with ErrIncompatibleCapabilities.
type CreateConsumerParams struct {
	TransportID      string                      `json:"transportId"`
	ProducerID       string                      `json:"producerId"`
	RTPCapabilities  []webrtc.RTPCodecCapability `json:"rtpCapabilities"`
}

// ConsumerInfo identifies the created Consumer and its own RTP parameters.
type ConsumerInfo struct {
	ConsumerID string                  `json:"consumerId"`
	Kind       string                  `json:"kind"`
	Codecs     []webrtc.RTPCodecCapability `json:"codecs"`
}

// ProducerStats is the readiness signal the Health Monitor polls against the
// READY -> LIVE guard and the LIVE -> ERROR "no media" condition (spec §4.3).
type ProducerStats struct {
	ProducerID        string `json:"producerId"`
	PacketsReceived   uint64 `json:"packetsReceived"`
	RTPBytesReceived  uint64 `json:"rtpBytesReceived"`
	JitterMs          float64 `json:"jitterMs"`
	PacketLossPercent float64 `json:"packetLossPercent"`
}

// Event is a server-initiated message delivered over the event side of the
// control channel, e.g. a producer closing or the transport being lost.
type Event struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId,omitempty"`
	ProducerID string `json:"producerId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

const (
	EventProducerClosed  = "producer-closed"
	EventTransportClosed = "transport-closed"
	EventChannelClosed   = "channel-closed"
)
