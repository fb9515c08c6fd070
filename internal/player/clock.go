package player

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const clockTick = 250 * time.Millisecond

// ClockElement is a headless element: it validates sources over HTTP and
// advances a wall-clock position while playing. Start must be running for
// events to be delivered.
type ClockElement struct {
	client *http.Client
	now    func() time.Time
	events chan Event

	mu       sync.Mutex
	ctx      context.Context
	loadSeq  int
	loaded   bool
	playing  bool
	position float64
	duration float64
	volume   float64
	since    time.Time
}

func NewClockElement(client *http.Client) *ClockElement {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ClockElement{
		client: client,
		now:    time.Now,
		events: make(chan Event, 64),
		ctx:    context.Background(),
		volume: 1,
	}
}

func (c *ClockElement) SupportsAdaptive() bool { return true }

func (c *ClockElement) Events() <-chan Event { return c.events }

// Load probes m in the background and reports EventLoaded or EventError.
func (c *ClockElement) Load(m Media) error {
	c.mu.Lock()
	c.loadSeq++
	seq := c.loadSeq
	c.loaded = false
	c.playing = false
	c.position = 0
	c.duration = m.DurationHint
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		duration := m.DurationHint
		var err error
		if m.Kind == SourceAdaptive {
			duration, err = ProbeHLS(ctx, c.client, m.URL)
		} else {
			err = ProbeFile(ctx, c.client, m.URL)
		}

		c.mu.Lock()
		if seq != c.loadSeq {
			c.mu.Unlock()
			return
		}
		if err == nil {
			c.loaded = true
			if duration > 0 {
				c.duration = duration
			}
			c.since = c.now()
		}
		dur := c.duration
		c.mu.Unlock()

		if err != nil {
			c.emit(ctx, Event{Type: EventError, Err: err})
			return
		}
		c.emit(ctx, Event{Type: EventLoaded, Duration: dur})
	}()
	return nil
}

func (c *ClockElement) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		c.playing = true
		c.since = c.now()
	}
	return nil
}

func (c *ClockElement) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	c.playing = false
}

func (c *ClockElement) Seek(position float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = position
	c.since = c.now()
}

func (c *ClockElement) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	return c.position
}

func (c *ClockElement) SetVolume(v float64) {
	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()
}

func (c *ClockElement) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Start emits time updates until ctx is cancelled.
func (c *ClockElement) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	t := time.NewTicker(clockTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.tick(ctx)
		}
	}
}

func (c *ClockElement) tick(ctx context.Context) {
	c.mu.Lock()
	if !c.playing || !c.loaded {
		c.mu.Unlock()
		return
	}
	c.advance()
	ended := c.duration > 0 && c.position >= c.duration
	if ended {
		c.position = c.duration
		c.playing = false
	}
	pos := c.position
	c.mu.Unlock()

	c.emit(ctx, Event{Type: EventTimeUpdate, Time: pos})
	if ended {
		c.emit(ctx, Event{Type: EventEnded, Time: pos})
	}
}

// advance moves the position forward by the wall time since the last
// advance. Callers hold mu.
func (c *ClockElement) advance() {
	now := c.now()
	if c.playing && c.loaded {
		c.position += now.Sub(c.since).Seconds()
	}
	c.since = now
}

func (c *ClockElement) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
