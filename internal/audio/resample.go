// ABOUTME: Sample rate and channel conversion for decoded tracks
// ABOUTME: Uses linear interpolation to match the output device format
package audio

// Convert returns p in the target format. Channels are mixed down or
// duplicated; the sample rate is changed by linear interpolation.
func Convert(p *PCM, target Format) *PCM {
	if p.Format == target {
		return p
	}

	frames := p.Frames()
	if frames == 0 {
		return &PCM{Format: target}
	}

	ratio := float64(p.Format.SampleRate) / float64(target.SampleRate)
	outFrames := int(float64(frames) / ratio)
	out := &PCM{Format: target, Data: make([]byte, 0, outFrames*target.Channels*bytesPerSample)}

	position := 0.0
	for i := 0; i < outFrames; i++ {
		idx := int(position)
		frac := position - float64(idx)
		next := idx + 1
		if next >= frames {
			next = frames - 1
		}

		for ch := 0; ch < target.Channels; ch++ {
			s1 := float64(p.channelSample(idx, ch, target.Channels))
			s2 := float64(p.channelSample(next, ch, target.Channels))
			out.Data = appendSample(out.Data, int16(s1*(1.0-frac)+s2*frac))
		}

		position += ratio
	}

	return out
}

// channelSample maps output channel ch of an outChannels layout onto p
func (p *PCM) channelSample(frame, ch, outChannels int) int16 {
	in := p.Format.Channels
	switch {
	case in == outChannels:
		return p.Sample(frame, ch)
	case in == 1:
		return p.Sample(frame, 0)
	case outChannels == 1:
		sum := 0
		for c := 0; c < in; c++ {
			sum += int(p.Sample(frame, c))
		}
		return int16(sum / in)
	case ch < in:
		return p.Sample(frame, ch)
	default:
		return p.Sample(frame, in-1)
	}
}
