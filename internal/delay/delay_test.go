package delay

import (
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-delaychat/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFormatDelay(t *testing.T) {
	tcases := []struct {
		name     string
		delay    time.Duration
		expected string
	}{
		{
			name:     "zero delay",
			delay:    0,
			expected: "0.00sec",
		},
		{
			name:     "seconds only",
			delay:    12*time.Second + 340*time.Millisecond,
			expected: "12.34sec",
		},
		{
			name:     "minutes and seconds",
			delay:    10 * time.Minute,
			expected: "10min 0.00sec",
		},
		{
			name:     "hours include zero minutes",
			delay:    time.Hour + 5*time.Second,
			expected: "1hr 0min 5.00sec",
		},
		{
			name:     "full components",
			delay:    2*time.Hour + 3*time.Minute + 4*time.Second + 500*time.Millisecond,
			expected: "2hr 3min 4.50sec",
		},
		{
			name:     "negative clamps to zero",
			delay:    -time.Second,
			expected: "0.00sec",
		},
		{
			name:     "sub-second rounding does not spill into minutes",
			delay:    59*time.Second + 999*time.Millisecond,
			expected: "1min 0.00sec",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatDelay(tc.delay))
		})
	}
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(testutil.TestLogger(t), 600*time.Second)
	assert.Equal(t, 600*time.Second, c.Current())
	assert.Equal(t, "10min 0.00sec", c.String())
	assert.Equal(t, "179875474.80 km", c.DistanceString())

	c.SetManual(0)
	assert.Equal(t, time.Duration(0), c.Current())
	assert.Equal(t, "0.00 km", c.DistanceString())

	c.SetManual(-5 * time.Second)
	assert.Equal(t, time.Duration(0), c.Current(), "negative delay clamps to zero")
}

type fakeProvider struct {
	d   time.Duration
	err error
}

func (f *fakeProvider) CurrentDelay() (time.Duration, error) {
	return f.d, f.err
}

func TestProviderClock(t *testing.T) {
	p := &fakeProvider{d: 30 * time.Second}
	c := NewProviderClock(testutil.TestLogger(t), p)
	assert.Equal(t, 30*time.Second, c.Current())

	// Every call reads the provider again.
	p.d = time.Minute
	assert.Equal(t, time.Minute, c.Current())

	p.err = errors.New("schedule unavailable")
	assert.Equal(t, time.Duration(0), c.Current(), "failing provider falls back to zero delay")

	p.err = nil
	p.d = -time.Second
	assert.Equal(t, time.Duration(0), c.Current(), "negative provider value falls back to zero delay")
}

func TestProviderClockNilProvider(t *testing.T) {
	c := NewProviderClock(testutil.TestLogger(t), nil)
	assert.Equal(t, time.Duration(0), c.Current())
}

func TestArrivalTimes(t *testing.T) {
	sent := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("habitat sender", func(t *testing.T) {
		hab, mcc := ArrivalTimes(sent, true, 600*time.Second)
		assert.Equal(t, sent, hab, "sender's own side sees the message immediately")
		assert.Equal(t, sent.Add(600*time.Second), mcc)
	})

	t.Run("control sender", func(t *testing.T) {
		hab, mcc := ArrivalTimes(sent, false, 600*time.Second)
		assert.Equal(t, sent.Add(600*time.Second), hab)
		assert.Equal(t, sent, mcc, "sender's own side sees the message immediately")
	})

	t.Run("zero delay", func(t *testing.T) {
		hab, mcc := ArrivalTimes(sent, true, 0)
		assert.Equal(t, sent, hab)
		assert.Equal(t, sent, mcc)
	})

	t.Run("negative delay treated as zero", func(t *testing.T) {
		hab, mcc := ArrivalTimes(sent, false, -time.Second)
		assert.Equal(t, sent, hab)
		assert.Equal(t, sent, mcc)
	})

	t.Run("deterministic", func(t *testing.T) {
		h1, m1 := ArrivalTimes(sent, true, 42*time.Second)
		h2, m2 := ArrivalTimes(sent, true, 42*time.Second)
		assert.Equal(t, h1, h2)
		assert.Equal(t, m1, m2)
	})
}
