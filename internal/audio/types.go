// ABOUTME: Audio type definitions
// ABOUTME: Defines decoded PCM tracks and sample conversions
package audio

import (
	"encoding/binary"
	"time"
)

// bytesPerSample is fixed: decoded tracks are always signed 16-bit little endian
const bytesPerSample = 2

// Format describes decoded PCM
type Format struct {
	SampleRate int
	Channels   int
}

// PCM is a fully decoded track, interleaved signed 16-bit little endian
type PCM struct {
	Format Format
	Data   []byte
}

func (p *PCM) frameSize() int {
	return p.Format.Channels * bytesPerSample
}

// Frames returns the number of sample frames
func (p *PCM) Frames() int {
	if p.Format.Channels == 0 {
		return 0
	}
	return len(p.Data) / p.frameSize()
}

// Duration returns the playing time of the track
func (p *PCM) Duration() time.Duration {
	if p.Format.SampleRate == 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.Format.SampleRate)
}

// Offset returns the frame-aligned byte offset of pos, clamped to the track
func (p *PCM) Offset(pos time.Duration) int {
	if pos <= 0 || p.Format.SampleRate == 0 {
		return 0
	}
	frame := int64(pos) * int64(p.Format.SampleRate) / int64(time.Second)
	if frame > int64(p.Frames()) {
		frame = int64(p.Frames())
	}
	return int(frame) * p.frameSize()
}

// Sample returns the sample at frame i, channel ch
func (p *PCM) Sample(i, ch int) int16 {
	at := i*p.frameSize() + ch*bytesPerSample
	return int16(binary.LittleEndian.Uint16(p.Data[at:]))
}

// appendSample appends one little endian int16
func appendSample(dst []byte, s int16) []byte {
	return binary.LittleEndian.AppendUint16(dst, uint16(s))
}

// toInt16 scales a sample of the given bit depth to 16 bits
func toInt16(sample int32, bits int) int16 {
	switch {
	case bits > 16:
		return int16(sample >> (bits - 16))
	case bits < 16:
		return int16(sample << (16 - bits))
	default:
		return int16(sample)
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
