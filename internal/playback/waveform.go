package playback

import "time"

// Buffer holds decoded audio mixed down to one channel.
type Buffer struct {
	SampleRate int
	// Channels is the channel count of the source before mixing.
	Channels int
	Samples  []float32
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	return len(b.Samples)
}

// Duration returns the playing time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Peak is the sample range covered by one waveform bar.
type Peak struct {
	Min float32
	Max float32
}

// Peaks reduces samples to bars columns. Each bar covers
// ceil(len(samples)/bars) samples; bars past the end are flat.
func Peaks(samples []float32, bars int) []Peak {
	if bars <= 0 {
		return nil
	}
	out := make([]Peak, bars)
	if len(samples) == 0 {
		return out
	}
	step := (len(samples) + bars - 1) / bars
	for i := range out {
		lo := i * step
		if lo >= len(samples) {
			break
		}
		hi := min(lo+step, len(samples))
		p := Peak{Min: 1, Max: -1}
		for _, v := range samples[lo:hi] {
			p.Min = min(p.Min, v)
			p.Max = max(p.Max, v)
		}
		out[i] = p
	}
	return out
}

// PlayheadX maps elapsed playing time onto a waveform of the given width.
func PlayheadX(elapsed, duration time.Duration, width float64) float64 {
	if duration <= 0 || width <= 0 {
		return 0
	}
	frac := float64(elapsed) / float64(duration)
	return min(max(frac, 0), 1) * width
}
