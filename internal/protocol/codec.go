// ABOUTME: Encoding and validated decoding of Zync protocol frames
// ABOUTME: Maps each message kind to exactly one payload shape per direction
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownKind is returned for a message type outside the protocol
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrBadPayload is returned when a payload does not match its kind
	ErrBadPayload = errors.New("malformed payload")
)

// Command is a decoded device-to-relay message
type Command interface {
	CommandKind() Kind
}

// Event is a decoded relay-to-device message
type Event interface {
	EventKind() Kind
}

// RequestAudio asks for the current track bytes
type RequestAudio struct{}

// PauseCommand pauses a playing timeline
type PauseCommand struct{}

// StopCommand resets the timeline to idle
type StopCommand struct{}

func (TimeSyncRequest) CommandKind() Kind { return KindTimeSync }
func (IdentityUpdate) CommandKind() Kind  { return KindUpdateIdentity }
func (UploadAudio) CommandKind() Kind     { return KindUploadAudio }
func (RequestAudio) CommandKind() Kind    { return KindRequestAudio }
func (PlayCommand) CommandKind() Kind     { return KindPlay }
func (PauseCommand) CommandKind() Kind    { return KindPause }
func (StopCommand) CommandKind() Kind     { return KindStop }
func (SeekCommand) CommandKind() Kind     { return KindSeek }
func (ControlDevice) CommandKind() Kind   { return KindControlDevice }

// Roster is the full client list sent as clients_update
type Roster []ClientInfo

// StateEvent carries a timeline snapshot under one of the state-bearing kinds
// (play, pause, stop, seek, playback_state)
type StateEvent struct {
	Kind  Kind
	State PlaybackState
}

// Ack is a reply to a request; Payload is decoded by whoever issued the request
type Ack struct {
	ID      uint64
	Payload json.RawMessage
}

func (IdentityCorrected) EventKind() Kind { return KindIdentityCorrected }
func (Roster) EventKind() Kind            { return KindClientsUpdate }
func (AudioAvailable) EventKind() Kind    { return KindAudioAvailable }
func (e StateEvent) EventKind() Kind      { return e.Kind }
func (RemoteControl) EventKind() Kind     { return KindRemoteControl }
func (Ack) EventKind() Kind               { return KindAck }
func (ErrorPayload) EventKind() Kind      { return KindError }

// Encode builds a wire frame. A nil payload is omitted; a typed nil pointer encodes as null.
func Encode(kind Kind, id uint64, payload interface{}) ([]byte, error) {
	msg := Message{Type: kind, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}

// DecodeCommand parses and validates a frame sent by a device
func DecodeCommand(data []byte) (Message, Command, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	var cmd Command
	var err error

	switch msg.Type {
	case KindTimeSync:
		var c TimeSyncRequest
		err = decodePayload(msg.Payload, &c, true)
		cmd = c
	case KindUpdateIdentity:
		var c IdentityUpdate
		if err = decodePayload(msg.Payload, &c, true); err == nil {
			// An empty status counts as absent; the other fields still merge
			if c.Status != nil && *c.Status == "" {
				c.Status = nil
			}
			err = c.validate()
		}
		cmd = c
	case KindUploadAudio:
		var c UploadAudio
		if err = decodePayload(msg.Payload, &c, true); err == nil && c.Name == "" {
			err = fmt.Errorf("%w: upload_audio requires a name", ErrBadPayload)
		}
		cmd = c
	case KindRequestAudio:
		var c RequestAudio
		err = decodePayload(msg.Payload, &c, false)
		cmd = c
	case KindPlay:
		var c PlayCommand
		if err = decodePayload(msg.Payload, &c, false); err == nil && c.LeadMs != nil && *c.LeadMs < 0 {
			err = fmt.Errorf("%w: negative leadMs", ErrBadPayload)
		}
		cmd = c
	case KindPause:
		var c PauseCommand
		err = decodePayload(msg.Payload, &c, false)
		cmd = c
	case KindStop:
		var c StopCommand
		err = decodePayload(msg.Payload, &c, false)
		cmd = c
	case KindSeek:
		var c SeekCommand
		err = decodePayload(msg.Payload, &c, true)
		cmd = c
	case KindControlDevice:
		var c ControlDevice
		if err = decodePayload(msg.Payload, &c, true); err == nil && (c.TargetID == "" || c.Action == "") {
			err = fmt.Errorf("%w: control_device requires targetId and action", ErrBadPayload)
		}
		cmd = c
	default:
		return msg, nil, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Type)
	}

	if err != nil {
		return msg, nil, err
	}
	return msg, cmd, nil
}

// DecodeEvent parses a frame sent by the relay
func DecodeEvent(data []byte) (Message, Event, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	var ev Event
	var err error

	switch msg.Type {
	case KindIdentityCorrected:
		var e IdentityCorrected
		err = decodePayload(msg.Payload, &e, true)
		ev = e
	case KindClientsUpdate:
		var e Roster
		err = decodePayload(msg.Payload, &e, false)
		ev = e
	case KindAudioAvailable:
		var e AudioAvailable
		err = decodePayload(msg.Payload, &e, true)
		ev = e
	case KindPlay, KindPause, KindStop, KindSeek, KindPlaybackState:
		var st PlaybackState
		err = decodePayload(msg.Payload, &st, false)
		ev = StateEvent{Kind: msg.Type, State: st}
	case KindRemoteControl:
		var e RemoteControl
		err = decodePayload(msg.Payload, &e, true)
		ev = e
	case KindAck:
		ev = Ack{ID: msg.ID, Payload: msg.Payload}
	case KindError:
		var e ErrorPayload
		err = decodePayload(msg.Payload, &e, false)
		ev = e
	default:
		return msg, nil, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Type)
	}

	if err != nil {
		return msg, nil, err
	}
	return msg, ev, nil
}

// IsNull reports whether a raw payload is absent or JSON null
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodePayload(raw json.RawMessage, v interface{}, required bool) error {
	if IsNull(raw) {
		if required {
			return fmt.Errorf("%w: missing payload", ErrBadPayload)
		}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

func (u IdentityUpdate) validate() error {
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrBadPayload, *u.Status)
	}
	if u.Volume != nil && (math.IsNaN(*u.Volume) || math.IsInf(*u.Volume, 0)) {
		return fmt.Errorf("%w: volume must be finite", ErrBadPayload)
	}
	return nil
}
