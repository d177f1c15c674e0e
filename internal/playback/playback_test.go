package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafcutter/leafcutter/internal/events"
)

// fakeEngine counts sounding voices and remembers the highest count seen.
type fakeEngine struct {
	mu      sync.Mutex
	running int
	peak    int
	started int
	fail    error
}

type fakeVoice struct {
	e    *fakeEngine
	once sync.Once
}

func (v *fakeVoice) Stop() {
	v.once.Do(func() {
		v.e.mu.Lock()
		v.e.running--
		v.e.mu.Unlock()
	})
}

func (e *fakeEngine) Start(buf *Buffer) (Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}
	e.started++
	e.running++
	e.peak = max(e.peak, e.running)
	return &fakeVoice{e: e}, nil
}

func (e *fakeEngine) counts() (running, peak int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running, e.peak
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type+":"+e.Owner)
	}
	return out
}

func seconds(n float64) *Buffer {
	return &Buffer{SampleRate: 1000, Channels: 1, Samples: make([]float32, int(n*1000))}
}

func TestPlayChokesPrevious(t *testing.T) {
	eng := &fakeEngine{}
	rec := &recorder{}
	c := NewController(eng, WithPublisher(rec))

	require.NoError(t, c.Play(seconds(10), "kick"))
	require.NoError(t, c.Play(seconds(10), "snare"))

	owner, ok := c.Active()
	assert.True(t, ok)
	assert.Equal(t, "snare", owner)

	running, peak := eng.counts()
	assert.Equal(t, 1, running)
	assert.Equal(t, 1, peak)

	assert.False(t, c.Stop("kick"), "a choked owner cannot stop the new voice")
	assert.True(t, c.Stop("snare"))
	_, ok = c.Active()
	assert.False(t, ok)

	assert.Equal(t, []string{
		"playback_started:kick",
		"playback_choked:kick",
		"playback_started:snare",
		"playback_ended:snare",
	}, rec.types())
}

func TestVoiceEndsByItself(t *testing.T) {
	eng := &fakeEngine{}
	rec := &recorder{}
	c := NewController(eng, WithPublisher(rec))

	require.NoError(t, c.Play(seconds(0.02), "hat"))
	assert.Eventually(t, func() bool {
		_, ok := c.Active()
		return !ok
	}, time.Second, 5*time.Millisecond)

	running, _ := eng.counts()
	assert.Equal(t, 0, running)
	assert.Equal(t, []string{"playback_started:hat", "playback_ended:hat"}, rec.types())
}

func TestStaleTimerDoesNotEndNewVoice(t *testing.T) {
	c := NewController(&fakeEngine{})

	require.NoError(t, c.Play(seconds(0.01), "a"))
	require.NoError(t, c.Play(seconds(10), "b"))
	time.Sleep(50 * time.Millisecond)

	owner, ok := c.Active()
	assert.True(t, ok)
	assert.Equal(t, "b", owner)
}

func TestConcurrentPlayKeepsSingleVoice(t *testing.T) {
	eng := &fakeEngine{}
	c := NewController(eng)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := string(rune('a' + i%26))
			_ = c.Play(seconds(1), owner)
			if i%3 == 0 {
				c.Stop(owner)
			}
		}(i)
	}
	wg.Wait()

	_, peak := eng.counts()
	assert.Equal(t, 1, peak)
	c.StopAll()
	running, _ := eng.counts()
	assert.Equal(t, 0, running)
}

func TestPlayErrors(t *testing.T) {
	eng := &fakeEngine{}
	c := NewController(eng)

	assert.ErrorIs(t, c.Play(nil, "x"), ErrEmptyBuffer)
	assert.ErrorIs(t, c.Play(&Buffer{SampleRate: 44100}, "x"), ErrEmptyBuffer)

	require.NoError(t, c.Play(seconds(10), "a"))
	eng.fail = errors.New("device busy")
	assert.Error(t, c.Play(seconds(10), "b"))
	_, ok := c.Active()
	assert.False(t, ok, "previous voice was choked before the failed start")
	assert.False(t, c.StopAll())
}

func TestPosition(t *testing.T) {
	c := NewController(ClockEngine{})
	require.NoError(t, c.Play(seconds(10), "a"))

	elapsed, dur, ok := c.Position("a")
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, dur)
	assert.Less(t, elapsed, time.Second)

	_, _, ok = c.Position("b")
	assert.False(t, ok)
}

func TestClockEngine(t *testing.T) {
	v, err := ClockEngine{}.Start(seconds(1))
	require.NoError(t, err)
	done := Done(v)
	require.NotNil(t, done)
	v.Stop()
	v.Stop()
	_, open := <-done
	assert.False(t, open)
	assert.Nil(t, Done(&fakeVoice{}))
}

func TestPeaks(t *testing.T) {
	samples := []float32{0.1, -0.5, 0.9, 0.2, -0.3, 0.4, 0.0}
	got := Peaks(samples, 3)
	assert.Equal(t, []Peak{{Min: -0.5, Max: 0.9}, {Min: -0.3, Max: 0.4}, {Min: 0, Max: 0}}, got)

	assert.Len(t, Peaks(samples, 20), 20)
	assert.Equal(t, Peak{}, Peaks(samples, 20)[19])
	assert.Nil(t, Peaks(samples, 0))
	assert.Equal(t, make([]Peak, 4), Peaks(nil, 4))
}

func TestPlayheadX(t *testing.T) {
	assert.Equal(t, 0.0, PlayheadX(0, time.Second, 200))
	assert.Equal(t, 100.0, PlayheadX(500*time.Millisecond, time.Second, 200))
	assert.Equal(t, 200.0, PlayheadX(3*time.Second, time.Second, 200))
	assert.Equal(t, 0.0, PlayheadX(time.Second, 0, 200))
}

func TestBufferDuration(t *testing.T) {
	b := &Buffer{SampleRate: 44100, Samples: make([]float32, 22050)}
	assert.Equal(t, 500*time.Millisecond, b.Duration())
	assert.Equal(t, time.Duration(0), (&Buffer{}).Duration())
}

// wavFile builds a RIFF/WAVE file around interleaved sample bytes.
func wavFile(tag uint16, channels, rate, bits int, samples []byte, extra ...[]byte) []byte {
	var fmtChunk bytes.Buffer
	binary.Write(&fmtChunk, binary.LittleEndian, tag)
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(channels))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(rate))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(rate*channels*bits/8))
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(channels*bits/8))
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(bits))

	var body bytes.Buffer
	body.WriteString("WAVE")
	chunk := func(id string, b []byte) {
		body.WriteString(id)
		binary.Write(&body, binary.LittleEndian, uint32(len(b)))
		body.Write(b)
		if len(b)%2 == 1 {
			body.WriteByte(0)
		}
	}
	chunk("fmt ", fmtChunk.Bytes())
	for _, e := range extra {
		chunk("LIST", e)
	}
	chunk("data", samples)

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestDecodeWAV16(t *testing.T) {
	want := []int16{0, 16384, -16384, 32767, -32768}
	var raw bytes.Buffer
	for _, v := range want {
		binary.Write(&raw, binary.LittleEndian, v)
	}

	buf, err := DecodeWAV(wavFile(formatPCM, 1, 8000, 16, raw.Bytes(), []byte("odd")))
	require.NoError(t, err)
	assert.Equal(t, 8000, buf.SampleRate)
	require.Len(t, buf.Samples, len(want))
	for i, v := range want {
		assert.InDelta(t, float64(v)/32768, buf.Samples[i], 1e-6)
	}
}

func TestDecodeWAVStereoMix(t *testing.T) {
	var raw bytes.Buffer
	for _, v := range []int16{16384, -16384, 32767, 32767} {
		binary.Write(&raw, binary.LittleEndian, v)
	}
	buf, err := DecodeWAV(wavFile(formatPCM, 2, 44100, 16, raw.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, buf.Channels)
	require.Len(t, buf.Samples, 2)
	assert.InDelta(t, 0, buf.Samples[0], 1e-6)
	assert.InDelta(t, 32767.0/32768, buf.Samples[1], 1e-6)
}

func TestDecodeWAVOtherDepths(t *testing.T) {
	buf, err := DecodeWAV(wavFile(formatPCM, 1, 8000, 8, []byte{128, 255, 0}))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 127.0 / 128, -1}, buf.Samples, 1e-6)

	buf, err = DecodeWAV(wavFile(formatPCM, 1, 8000, 24, []byte{0, 0, 0x40, 0, 0, 0xC0}))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.5, -0.5}, buf.Samples, 1e-6)

	var raw bytes.Buffer
	binary.Write(&raw, binary.LittleEndian, math.Float32bits(0.25))
	binary.Write(&raw, binary.LittleEndian, math.Float32bits(-1))
	buf, err = DecodeWAV(wavFile(formatFloat, 1, 48000, 32, raw.Bytes()))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.25, -1}, buf.Samples, 1e-6)
}

func TestDecodeWAVErrors(t *testing.T) {
	_, err := DecodeWAV([]byte("ID3 not a wav file"))
	assert.ErrorIs(t, err, ErrNotWAV)

	_, err = DecodeWAV(wavFile(2, 1, 8000, 4, []byte{0}))
	assert.Error(t, err, "ADPCM is unsupported")

	_, err = DecodeWAV([]byte("RIFF\x04\x00\x00\x00WAVE"))
	assert.Error(t, err)
}
