// Package delay models the one-way light-travel lag between the habitat
// and mission control. A single Clock owns the current delay value; the
// arrival-time computation is a pure function so that a message's receive
// times are fixed once, at send time, and never recomputed.
package delay

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// SpeedOfLightKmPerSec is used to express the current delay as an
// equivalent one-way distance.
const SpeedOfLightKmPerSec = 299792.458

// Provider yields the current delay when the clock is not in manual
// mode, e.g. derived from a mission timeline. Implementations may return
// a different value on every call as time advances.
type Provider interface {
	CurrentDelay() (time.Duration, error)
}

// Clock holds the communication delay in effect right now. In manual
// mode it returns an explicitly configured value; otherwise it delegates
// to a Provider on every call and caches nothing.
type Clock struct {
	log      *log.Logger
	provider Provider

	mu     sync.RWMutex
	manual bool
	value  time.Duration
}

// NewManualClock returns a clock fixed to d until SetManual is called
// again. Negative values are clamped to zero.
func NewManualClock(logger *log.Logger, d time.Duration) *Clock {
	c := &Clock{log: logger, manual: true}
	c.SetManual(d)
	return c
}

// NewProviderClock returns a clock that reads the delay from p.
func NewProviderClock(logger *log.Logger, p Provider) *Clock {
	return &Clock{log: logger, provider: p}
}

// SetManual switches the clock to manual mode with the given value.
func (c *Clock) SetManual(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	c.manual = true
	c.value = d
	c.mu.Unlock()
}

// Current returns the delay in effect now. It always succeeds: a missing
// or failing provider falls back to zero delay.
func (c *Clock) Current() time.Duration {
	c.mu.RLock()
	manual, value := c.manual, c.value
	c.mu.RUnlock()

	if manual {
		return value
	}

	if c.provider == nil {
		return 0
	}

	d, err := c.provider.CurrentDelay()
	if err != nil || d < 0 {
		if err != nil && c.log != nil {
			c.log.Printf("delay provider failed, using zero delay: %v", err)
		}
		return 0
	}
	return d
}

// String formats the current delay as "1hr 2min 3.00sec". Hours and
// minutes are omitted while the leading component is zero.
func (c *Clock) String() string {
	return FormatDelay(c.Current())
}

// Distance returns the one-way distance equivalent of the current delay.
func (c *Clock) Distance() float64 {
	return c.Current().Seconds() * SpeedOfLightKmPerSec
}

// DistanceString formats Distance with two decimals, e.g. "299792.46 km".
func (c *Clock) DistanceString() string {
	return FormatDistance(c.Current())
}

// FormatDistance renders the distance equivalent of a delay duration.
func FormatDistance(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.2f km", d.Seconds()*SpeedOfLightKmPerSec)
}

// FormatDelay renders a delay duration in the hr/min/sec form used on
// the wire and in the UI.
func FormatDelay(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	secs := d.Seconds()
	hrs := int(secs) / 3600
	mins := (int(secs) - hrs*3600) / 60
	rem := secs - float64(hrs)*3600 - float64(mins)*60

	// Guard against 59.999... rounding up to a full minute in the
	// two-decimal rendering.
	if math.Round(rem*100)/100 >= 60 {
		rem = 0
		mins++
		if mins == 60 {
			mins = 0
			hrs++
		}
	}

	var out string
	if hrs > 0 {
		out = fmt.Sprintf("%dhr ", hrs)
	}
	if hrs > 0 || mins > 0 {
		out += fmt.Sprintf("%dmin ", mins)
	}

	return out + fmt.Sprintf("%.2fsec", rem)
}

// ArrivalTimes computes when a message sent at the given instant becomes
// visible on each site. The sender's own site sees it immediately; the
// remote site sees it after the one-way delay elapses. The result
// depends only on the arguments.
func ArrivalTimes(sent time.Time, fromHabitat bool, d time.Duration) (hab, mcc time.Time) {
	if d < 0 {
		d = 0
	}
	if fromHabitat {
		return sent, sent.Add(d)
	}
	return sent.Add(d), sent
}
