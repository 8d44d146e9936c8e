// ABOUTME: Whole-track audio decoder
// ABOUTME: Decodes MP3, FLAC and WAV files to 16-bit PCM for playback
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// Codecs understood by Decode
const (
	CodecMP3  = "mp3"
	CodecFLAC = "flac"
	CodecWAV  = "wav"
)

// ErrUnsupportedFormat is returned when a track is in none of the known codecs
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Sniff picks a codec from the file's magic bytes, falling back to its MIME type
func Sniff(mimeType string, data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("fLaC")):
		return CodecFLAC
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return CodecWAV
	case bytes.HasPrefix(data, []byte("ID3")):
		return CodecMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return CodecMP3
	}

	mediaType, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	switch strings.TrimSpace(mediaType) {
	case "audio/mpeg", "audio/mp3", "audio/mpeg3":
		return CodecMP3
	case "audio/flac", "audio/x-flac":
		return CodecFLAC
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return CodecWAV
	}
	return ""
}

// Decode decodes a complete track
func Decode(mimeType string, data []byte) (*PCM, error) {
	switch codec := Sniff(mimeType, data); codec {
	case CodecMP3:
		return decodeMP3(data)
	case CodecFLAC:
		return decodeFLAC(data)
	case CodecWAV:
		return decodeWAV(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
}

// decodeMP3 uses go-mp3, which always yields 16-bit stereo
func decodeMP3(data []byte) (*PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}

	return &PCM{Format: Format{SampleRate: dec.SampleRate(), Channels: 2}, Data: pcm}, nil
}

func decodeFLAC(data []byte) (*PCM, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open flac stream: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	bits := int(stream.Info.BitsPerSample)
	out := &PCM{Format: Format{SampleRate: int(stream.Info.SampleRate), Channels: channels}}
	out.Data = make([]byte, 0, int(stream.Info.NSamples)*channels*bytesPerSample)

	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("flac decode error: %w", err)
		}

		for i := 0; i < frame.Subframes[0].NSamples; i++ {
			for ch := 0; ch < channels; ch++ {
				out.Data = appendSample(out.Data, toInt16(frame.Subframes[ch].Samples[i], bits))
			}
		}
	}

	return out, nil
}

// decodeWAV reads integer PCM RIFF/WAVE files
func decodeWAV(data []byte) (*PCM, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("wav: truncated header")
	}

	var (
		format   Format
		bits     int
		haveFmt  bool
		body     []byte
		haveData bool
	)

	for rest := data[12:]; len(rest) >= 8; {
		id := string(rest[:4])
		size := int(binary.LittleEndian.Uint32(rest[4:8]))
		rest = rest[8:]
		if size > len(rest) {
			// Streams often leave the data size unset or too large
			size = len(rest)
		}
		chunk := rest[:size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: short fmt chunk")
			}
			tag := binary.LittleEndian.Uint16(chunk[0:2])
			if tag != 1 && tag != 0xFFFE {
				return nil, fmt.Errorf("%w: wav format tag %d", ErrUnsupportedFormat, tag)
			}
			format.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bits = int(binary.LittleEndian.Uint16(chunk[14:16]))
			haveFmt = true
		case "data":
			body = chunk
			haveData = true
		}

		// Chunks are word aligned
		if size%2 == 1 && size < len(rest) {
			size++
		}
		rest = rest[size:]
	}

	if !haveFmt || !haveData {
		return nil, fmt.Errorf("wav: missing fmt or data chunk")
	}
	if format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid format %+v", format)
	}

	out := &PCM{Format: format}
	switch bits {
	case 16:
		out.Data = body[:len(body)-len(body)%(2*format.Channels)]
	case 24:
		out.Data = make([]byte, 0, len(body)/3*2)
		for i := 0; i+3 <= len(body); i += 3 {
			out.Data = appendSample(out.Data, toInt16(SampleFrom24Bit([3]byte{body[i], body[i+1], body[i+2]}), 24))
		}
	case 8:
		out.Data = make([]byte, 0, len(body)*2)
		for _, b := range body {
			// 8-bit WAV is unsigned
			out.Data = appendSample(out.Data, toInt16(int32(b)-128, 8))
		}
	default:
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedFormat, bits)
	}

	return out, nil
}
