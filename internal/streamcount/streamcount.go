package streamcount

import "time"

const DefaultThreshold = 30 * time.Second

// Reporter counts organically elapsed playback for the loaded song and
// fires once when it reaches the threshold. It is a value; every method
// returns the updated Reporter.
type Reporter struct {
	threshold float64
	songID    string
	last      float64
	total     float64
	fired     bool
}

func New(threshold time.Duration) Reporter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Reporter{threshold: threshold.Seconds()}
}

// Load arms the reporter for songID.
func (r Reporter) Load(songID string) Reporter {
	return Reporter{threshold: r.threshold, songID: songID}
}

// End resets the accumulator when the track finishes.
func (r Reporter) End() Reporter {
	return r.Load(r.songID)
}

// Observe takes the element's current time in seconds. Only deltas in (0, 1)
// count; anything else is a seek or a stall. The returned bool is true on the
// single update that crosses the threshold.
func (r Reporter) Observe(currentTime float64) (Reporter, bool) {
	delta := currentTime - r.last
	r.last = currentTime
	if r.songID == "" || r.fired {
		return r, false
	}
	if delta > 0 && delta < 1 {
		r.total += delta
	}
	if r.total >= r.threshold {
		r.fired = true
		return r, true
	}
	return r, false
}

func (r Reporter) SongID() string   { return r.songID }
func (r Reporter) Elapsed() float64 { return r.total }
func (r Reporter) Fired() bool      { return r.fired }
