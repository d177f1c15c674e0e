package playback

import "sync"

// ClockEngine is a headless Engine: its voices make no sound and only exist
// until stopped. The CLI uses it to drive the playhead without an audio
// device.
type ClockEngine struct{}

// Start returns a silent voice.
func (ClockEngine) Start(buf *Buffer) (Voice, error) {
	return &clockVoice{done: make(chan struct{})}, nil
}

type clockVoice struct {
	once sync.Once
	done chan struct{}
}

func (v *clockVoice) Stop() {
	v.once.Do(func() { close(v.done) })
}

// Done returns a channel closed when the voice stops. It is nil for voices
// not started by a ClockEngine.
func Done(v Voice) <-chan struct{} {
	if cv, ok := v.(*clockVoice); ok {
		return cv.done
	}
	return nil
}
