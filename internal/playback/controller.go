// Package playback owns sample preview playback. A Controller enforces a
// single active voice: starting a sample chokes whatever was playing.
package playback

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/events"
	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/internal/metrics"
)

// Voice is one sounding sample. Stop must be safe to call more than once.
type Voice interface {
	Stop()
}

// Engine starts voices on the host audio device.
type Engine interface {
	Start(buf *Buffer) (Voice, error)
}

// ErrEmptyBuffer is returned when playing a buffer with no frames.
var ErrEmptyBuffer = errors.New("playback: empty buffer")

type active struct {
	id       uint64
	owner    string
	voice    Voice
	timer    *time.Timer
	started  time.Time
	duration time.Duration
}

// Controller is the session's playback context.
type Controller struct {
	engine    Engine
	publisher events.Publisher

	mu     sync.Mutex
	seq    uint64
	active *active
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithPublisher sends playback events to p.
func WithPublisher(p events.Publisher) ControllerOption {
	return func(c *Controller) {
		c.publisher = p
	}
}

// NewController creates a Controller playing through engine.
func NewController(engine Engine, opts ...ControllerOption) *Controller {
	c := &Controller{engine: engine}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Play chokes the active voice, if any, and starts buf for owner. The voice
// ends by itself after the buffer's duration.
func (c *Controller) Play(buf *Buffer, owner string) error {
	if buf == nil || buf.Frames() == 0 {
		return ErrEmptyBuffer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		prev := c.active
		c.halt()
		metrics.RecordPlayback("choked")
		c.publish(events.Event{Type: events.EventPlaybackChoked, Owner: prev.owner})
	}

	v, err := c.engine.Start(buf)
	if err != nil {
		logging.Warn("failed to start voice", zap.String("owner", owner), zap.Error(err))
		return err
	}

	c.seq++
	a := &active{
		id:       c.seq,
		owner:    owner,
		voice:    v,
		started:  time.Now(),
		duration: buf.Duration(),
	}
	id := a.id
	a.timer = time.AfterFunc(a.duration, func() { c.finish(id) })
	c.active = a

	metrics.RecordPlayback("started")
	c.publish(events.Event{Type: events.EventPlaybackStarted, Owner: owner})
	return nil
}

// Stop stops the active voice if owner started it. It reports whether a
// voice was stopped.
func (c *Controller) Stop(owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.owner != owner {
		return false
	}
	c.end()
	return true
}

// StopAll stops the active voice, whoever owns it.
func (c *Controller) StopAll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false
	}
	c.end()
	return true
}

// Active returns the owner of the sounding voice.
func (c *Controller) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.owner, true
}

// Position returns the elapsed time and total duration of owner's voice.
func (c *Controller) Position(owner string) (elapsed, duration time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.owner != owner {
		return 0, 0, false
	}
	elapsed = min(time.Since(c.active.started), c.active.duration)
	return elapsed, c.active.duration, true
}

func (c *Controller) finish(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.id != id {
		return
	}
	c.end()
}

// end stops the active voice and reports it ended. Callers hold mu.
func (c *Controller) end() {
	owner := c.active.owner
	c.halt()
	metrics.RecordPlayback("ended")
	c.publish(events.Event{Type: events.EventPlaybackEnded, Owner: owner})
}

// halt releases the active voice. Callers hold mu.
func (c *Controller) halt() {
	c.active.timer.Stop()
	c.active.voice.Stop()
	c.active = nil
}

func (c *Controller) publish(e events.Event) {
	if c.publisher != nil {
		c.publisher.Publish(e)
	}
}
