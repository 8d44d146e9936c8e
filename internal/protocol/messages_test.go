// ABOUTME: Tests for Zync protocol frames
// ABOUTME: Verifies kind validation and payload decoding in both directions
package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Kind
		wantErr error
	}{
		{"timesync", `{"type":"timesync","id":7,"payload":{"sendTime":1000}}`, KindTimeSync, nil},
		{"timesync without payload", `{"type":"timesync","id":7}`, "", ErrBadPayload},
		{"identity partial", `{"type":"update_identity","payload":{"volume":0.5}}`, KindUpdateIdentity, nil},
		{"identity unknown status", `{"type":"update_identity","payload":{"status":"Online"}}`, "", ErrBadPayload},
		{"identity extra field", `{"type":"update_identity","payload":{"name":"a","role":"admin"}}`, "", ErrBadPayload},
		{"play default lead", `{"type":"play"}`, KindPlay, nil},
		{"play negative lead", `{"type":"play","payload":{"leadMs":-5}}`, "", ErrBadPayload},
		{"pause empty object", `{"type":"pause","payload":{}}`, KindPause, nil},
		{"stop null", `{"type":"stop","payload":null}`, KindStop, nil},
		{"seek", `{"type":"seek","payload":{"positionMs":5000}}`, KindSeek, nil},
		{"control missing target", `{"type":"control_device","payload":{"action":"set_volume","value":0.3}}`, "", ErrBadPayload},
		{"control", `{"type":"control_device","payload":{"targetId":"b","action":"set_volume","value":0.3}}`, KindControlDevice, nil},
		{"upload without name", `{"type":"upload_audio","payload":{"type":"audio/mpeg","bytes":"AAE="}}`, "", ErrBadPayload},
		{"unknown kind", `{"type":"reboot"}`, "", ErrUnknownKind},
		{"relay-only kind", `{"type":"clients_update","payload":[]}`, "", ErrUnknownKind},
		{"garbage", `not json`, "", ErrBadPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cmd, err := DecodeCommand([]byte(tt.frame))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.CommandKind() != tt.want {
				t.Errorf("expected kind %s, got %s", tt.want, cmd.CommandKind())
			}
		})
	}
}

func TestDecodeIdentityLeavesMissingFieldsNil(t *testing.T) {
	_, cmd, err := DecodeCommand([]byte(`{"type":"update_identity","payload":{"isHost":true}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	update := cmd.(IdentityUpdate)
	if update.IsHost == nil || !*update.IsHost {
		t.Fatal("expected isHost=true to be present")
	}
	if update.Name != nil || update.Volume != nil || update.Status != nil {
		t.Errorf("expected untouched fields to stay nil, got %+v", update)
	}
}

func TestDecodeIdentityEmptyStatusIsAbsent(t *testing.T) {
	_, cmd, err := DecodeCommand([]byte(`{"type":"update_identity","payload":{"name":"den","volume":0.4,"status":""}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	update := cmd.(IdentityUpdate)
	if update.Status != nil {
		t.Errorf("expected empty status dropped, got %q", *update.Status)
	}
	if update.Name == nil || *update.Name != "den" || update.Volume == nil || *update.Volume != 0.4 {
		t.Errorf("expected name and volume kept, got %+v", update)
	}

	if _, _, err := DecodeCommand([]byte(`{"type":"update_identity","payload":{"status":"Sleeping"}}`)); !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload for unknown status, got %v", err)
	}
}

func TestUploadAudioBytesRoundTrip(t *testing.T) {
	data, err := Encode(KindUploadAudio, 0, UploadAudio{Name: "song.mp3", Type: "audio/mpeg", Bytes: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, cmd, err := DecodeCommand(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	upload := cmd.(UploadAudio)
	if len(upload.Bytes) != 3 || upload.Bytes[2] != 3 {
		t.Errorf("bytes not preserved: %v", upload.Bytes)
	}
}

func TestDecodeEventStateKinds(t *testing.T) {
	state := PlaybackState{IsPlaying: true, StartTime: 12000}
	for _, kind := range []Kind{KindPlay, KindPause, KindStop, KindSeek, KindPlaybackState} {
		data, err := Encode(kind, 0, state)
		if err != nil {
			t.Fatalf("encode %s: %v", kind, err)
		}

		_, ev, err := DecodeEvent(data)
		if err != nil {
			t.Fatalf("decode %s: %v", kind, err)
		}
		se, ok := ev.(StateEvent)
		if !ok {
			t.Fatalf("expected StateEvent for %s, got %T", kind, ev)
		}
		if se.Kind != kind || se.State != state {
			t.Errorf("%s: got %+v", kind, se)
		}
	}
}

func TestNullTrackAck(t *testing.T) {
	var none *TrackPayload
	data, err := Encode(KindAck, 3, none)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ack := ev.(Ack)
	if ack.ID != 3 {
		t.Errorf("expected id 3, got %d", ack.ID)
	}
	if !IsNull(ack.Payload) {
		t.Errorf("expected null payload, got %s", ack.Payload)
	}
}

func TestPlaybackStateJSONFieldNames(t *testing.T) {
	data, _ := json.Marshal(PlaybackState{IsPlaying: false, StartTime: 0, ElapsedMs: 500})
	want := `{"isPlaying":false,"startTime":0,"elapsed":500}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestPositionAt(t *testing.T) {
	playing := PlaybackState{IsPlaying: true, StartTime: 10000}
	if got := playing.PositionAt(12500); got != 2500 {
		t.Errorf("expected 2500, got %d", got)
	}

	paused := PlaybackState{ElapsedMs: 700}
	if got := paused.PositionAt(99999); got != 700 {
		t.Errorf("expected 700, got %d", got)
	}
}
