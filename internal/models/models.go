// Package models defines the persisted entities shared across the gateway:
// storage, the stream lifecycle engine, and the HTTP API all operate on these
// types rather than ad hoc maps.
package models

import "time"

// StreamState is the set of states the Stream State Machine moves a Stream
// through. See internal/statemachine for the guarded transition table.
type StreamState string

const (
	StreamInitializing StreamState = "INITIALIZING"
	StreamReady        StreamState = "READY"
	StreamLive         StreamState = "LIVE"
	StreamError        StreamState = "ERROR"
	StreamStopped      StreamState = "STOPPED"
	StreamClosed       StreamState = "CLOSED"
)

// Terminal reports whether no further automatic transition out of this state
// is expected without an external command (start/stop/delete).
func (s StreamState) Terminal() bool {
	return s == StreamClosed
}

// NonTerminal reports whether a Device may have at most one Stream in this
// state at a time, per the data-model invariant in spec.md §3.
func (s StreamState) NonTerminal() bool {
	switch s {
	case StreamInitializing, StreamReady, StreamLive, StreamError:
		return true
	default:
		return false
	}
}

// Device is a configured RTSP source.
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RTSPURL   string    `json:"rtspUrl"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CodecConfig pins the encoding ladder the transcoder is instructed to
// produce for a Stream's RTP and HLS outputs.
type CodecConfig struct {
	VideoProfile      string `json:"videoProfile"`
	PacketizationMode int    `json:"packetizationMode"`
	TargetFPS         int    `json:"targetFps"`
	MaxBitrateKbps    int    `json:"maxBitrateKbps"`
	SegmentTargetSecs int    `json:"segmentTargetSeconds"`
}

// DefaultCodecConfig returns the baseline H.264 ladder described in spec.md §4.5:
// baseline 42e01f, packetization-mode 1, 30fps target, capped bitrate, 6s segments.
func DefaultCodecConfig() CodecConfig {
	return CodecConfig{
		VideoProfile:      "42e01f",
		PacketizationMode: 1,
		TargetFPS:         30,
		MaxBitrateKbps:    2500,
		SegmentTargetSecs: 6,
	}
}

// Stream is one activation of a Device.
type Stream struct {
	ID           string      `json:"id"`
	DeviceID     string      `json:"deviceId"`
	State        StreamState `json:"state"`
	Codec        CodecConfig `json:"codec"`
	ProducerRef  string      `json:"producerRef,omitempty"`
	AssignedPort int         `json:"assignedPort,omitempty"`
	CapturedSSRC uint32      `json:"capturedSsrc,omitempty"`
	LastError    string      `json:"lastError,omitempty"`
	RetryCount   int         `json:"retryCount"`
	StartedAt    time.Time   `json:"startedAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Uptime reports how long the Stream has been in its current activation,
// measured from StartedAt.
func (s Stream) Uptime(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// Producer is the SFU-side handle for a Stream's ingress RTP flow.
type Producer struct {
	ID       string `json:"id"`
	StreamID string `json:"streamId"`
	SFUID    string `json:"sfuId"`
	SSRC     uint32 `json:"ssrc"`
	State    string `json:"state"`
}

// ConsumerState is the per-consumer lifecycle described in spec.md §4.6.
type ConsumerState string

const (
	ConsumerPending   ConsumerState = "PENDING"
	ConsumerConnected ConsumerState = "CONNECTED"
	ConsumerClosed    ConsumerState = "CLOSED"
)

// Consumer is one WebRTC downstream attached to a Stream's Producer.
type Consumer struct {
	ID           string        `json:"id"`
	StreamID     string        `json:"streamId"`
	ClientID     string        `json:"clientId"`
	State        ConsumerState `json:"state"`
	TransportRef string        `json:"transportRef,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastSeenAt   time.Time     `json:"lastSeenAt"`
	ClosedAt     *time.Time    `json:"closedAt,omitempty"`
	CloseReason  string        `json:"closeReason,omitempty"`
}

// ExtractionSource distinguishes whether a Snapshot or Bookmark is sourced
// from the live pipe or the HLS archive.
type ExtractionSource string

const (
	SourceLive       ExtractionSource = "LIVE"
	SourceHistorical ExtractionSource = "HISTORICAL"
)

// JobStatus is the monotone status lifecycle shared by Snapshot and Bookmark.
type JobStatus string

const (
	JobProcessing JobStatus = "PROCESSING"
	JobReady      JobStatus = "READY"
	JobFailed     JobStatus = "FAILED"
)

// Snapshot is an extracted still image.
type Snapshot struct {
	ID        string           `json:"id"`
	StreamID  string           `json:"streamId"`
	Timestamp time.Time        `json:"timestamp"`
	Source    ExtractionSource `json:"source"`
	Status    JobStatus        `json:"status"`
	ImagePath string           `json:"imagePath,omitempty"`
	Error     string           `json:"error,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	Tombstone bool             `json:"-"`
}

// Bookmark is an extracted video clip.
type Bookmark struct {
	ID              string           `json:"id"`
	StreamID        string           `json:"streamId"`
	CenterTimestamp time.Time        `json:"centerTimestamp"`
	StartTime       time.Time        `json:"startTime"`
	EndTime         time.Time        `json:"endTime"`
	DurationSeconds float64          `json:"durationSeconds"`
	Source          ExtractionSource `json:"source"`
	Label           string           `json:"label,omitempty"`
	EventType       string           `json:"eventType,omitempty"`
	Confidence      *float64         `json:"confidence,omitempty"`
	Tags            []string         `json:"tags,omitempty"`
	Status          JobStatus        `json:"status"`
	VideoPath       string           `json:"videoPath,omitempty"`
	ThumbnailPath   string           `json:"thumbnailPath,omitempty"`
	Error           string           `json:"error,omitempty"`
	Truncated       bool             `json:"truncated,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	Tombstone       bool             `json:"-"`
}

// Fixed scope identifiers a Client may hold.
const (
	ScopeStreamsRead    = "streams:read"
	ScopeStreamsWrite   = "streams:write"
	ScopeStreamsConsume = "streams:consume"
	ScopeSnapshotsRead  = "snapshots:read"
	ScopeSnapshotsWrite = "snapshots:write"
	ScopeBookmarksRead  = "bookmarks:read"
	ScopeBookmarksWrite = "bookmarks:write"
)

// AllScopes lists every scope recognised by the gateway, used when
// bootstrapping the first administrative Client.
func AllScopes() []string {
	return []string{
		ScopeStreamsRead, ScopeStreamsWrite, ScopeStreamsConsume,
		ScopeSnapshotsRead, ScopeSnapshotsWrite,
		ScopeBookmarksRead, ScopeBookmarksWrite,
	}
}

// Client is an API principal.
type Client struct {
	ClientID     string    `json:"clientId"`
	HashedSecret string    `json:"-"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasScope reports whether the client was granted the given scope.
func (c Client) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
