// ABOUTME: Zync protocol message type definitions
// ABOUTME: Defines the closed set of message kinds and one payload struct per kind
package protocol

import "encoding/json"

// Kind names a message type on the wire
type Kind string

// Device to relay
const (
	KindTimeSync       Kind = "timesync"
	KindUpdateIdentity Kind = "update_identity"
	KindUploadAudio    Kind = "upload_audio"
	KindRequestAudio   Kind = "request_audio"
	KindControlDevice  Kind = "control_device"
)

// Relay to device
const (
	KindIdentityCorrected Kind = "identity_corrected"
	KindClientsUpdate     Kind = "clients_update"
	KindAudioAvailable    Kind = "audio_available"
	KindPlaybackState     Kind = "playback_state"
	KindRemoteControl     Kind = "remote_control"
	KindAck               Kind = "ack"
	KindError             Kind = "error"
)

// Both directions: commands from devices, state broadcasts from the relay
const (
	KindPlay  Kind = "play"
	KindPause Kind = "pause"
	KindStop  Kind = "stop"
	KindSeek  Kind = "seek"
)

// Message is the top-level wrapper for all protocol messages.
// ID is set on request/response pairs only (timesync, request_audio and their acks).
type Message struct {
	Type    Kind            `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Status is the device-reported playback readiness
type Status string

const (
	StatusIdle        Status = "Idle"
	StatusDownloading Status = "Downloading"
	StatusReady       Status = "Ready"
	StatusPlaying     Status = "Playing"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusDownloading, StatusReady, StatusPlaying:
		return true
	}
	return false
}

// TimeSyncRequest is one clock probe
type TimeSyncRequest struct {
	SendTime int64 `json:"sendTime"` // Device clock, Unix ms
}

// TimeSyncReply answers a probe with the relay clock at receipt
type TimeSyncReply struct {
	ReferenceTime int64 `json:"referenceTime"` // Relay clock, Unix ms
	SendTime      int64 `json:"sendTime"`      // Echoed device timestamp
}

// IdentityUpdate merges into the sender's session. Nil fields are left untouched.
// IsHost is a request, never trusted directly.
type IdentityUpdate struct {
	Name   *string  `json:"name,omitempty"`
	IsHost *bool    `json:"isHost,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Status *Status  `json:"status,omitempty"`
}

// IdentityCorrected tells the requester which host flag it actually ended up with
type IdentityCorrected struct {
	IsHost bool `json:"isHost"`
}

// ClientInfo is one roster entry
type ClientInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	IsHost    bool    `json:"isHost"`
	Volume    float64 `json:"volume"`
	Status    Status  `json:"status"`
	LatencyMs int64   `json:"latency"`
}

// UploadAudio replaces the relay's current track
type UploadAudio struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Bytes []byte `json:"bytes"`
}

// AudioAvailable announces a loaded track
type AudioAvailable struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TrackPayload answers request_audio; the ack payload is null when no track is loaded
type TrackPayload struct {
	Bytes []byte `json:"bytes"`
	Type  string `json:"type"`
	Name  string `json:"name"`
}

// PlayCommand starts playback LeadMs in the future (relay default when nil)
type PlayCommand struct {
	LeadMs *int64 `json:"leadMs,omitempty"`
}

// SeekCommand moves the timeline to PositionMs
type SeekCommand struct {
	PositionMs int64 `json:"positionMs"`
}

// ControlDevice asks the relay to deliver a one-shot action to another device
type ControlDevice struct {
	TargetID string          `json:"targetId"`
	Action   string          `json:"action"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// RemoteControl is the one-way action delivered to the target. There is no reply:
// the target announces its new state through update_identity.
type RemoteControl struct {
	Action string          `json:"action"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Remote actions understood by the player
const (
	ActionSetVolume = "set_volume"
)

// PlaybackState is the relay's authoritative timeline snapshot
type PlaybackState struct {
	IsPlaying bool  `json:"isPlaying"`
	StartTime int64 `json:"startTime"` // Relay clock, Unix ms, where position 0 falls
	ElapsedMs int64 `json:"elapsed"`   // Position while not playing
}

// PositionAt returns the playback position at reference time refMs
func (s PlaybackState) PositionAt(refMs int64) int64 {
	if s.IsPlaying {
		return refMs - s.StartTime
	}
	return s.ElapsedMs
}

// ErrorPayload reports a rejected frame back to its sender
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
