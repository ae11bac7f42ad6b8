package restart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return NewPolicy(Config{
		MaxAttempts: 5,
		Window:      60 * time.Second,
		BackoffBase: 100 * time.Millisecond,
		BackoffCap:  1 * time.Second,
	})
}

func TestShouldRestart_FirstCrashUsesBaseDelay(t *testing.T) {
	p := testPolicy()
	d := p.ShouldRestart(Record{}, time.Now())
	require.True(t, d.Allow)
	assert.Equal(t, 100*time.Millisecond, d.Delay)
}

func TestShouldRestart_ExponentialWithCap(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	var rec Record
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1 * time.Second,
	}
	for i, w := range want {
		d := p.ShouldRestart(rec, now)
		require.True(t, d.Allow, "attempt %d", i)
		assert.Equal(t, w, d.Delay, "attempt %d", i)
		rec = rec.Add(now)
	}
	d := p.ShouldRestart(rec, now)
	assert.False(t, d.Allow, "budget of 5 restarts in window must be exhausted")
}

func TestShouldRestart_PrunesOutsideWindow(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	var rec Record
	for i := 0; i < 5; i++ {
		rec = rec.Add(now.Add(-2 * time.Minute))
	}
	d := p.ShouldRestart(rec, now)
	require.True(t, d.Allow, "old entries are outside the window")
	assert.Equal(t, 100*time.Millisecond, d.Delay)

	rec = rec.Add(now.Add(-10 * time.Second))
	d = p.ShouldRestart(rec, now)
	require.True(t, d.Allow)
	assert.Equal(t, 200*time.Millisecond, d.Delay)
}

// Exhaustive check over small histories: deny iff pruned count >= max.
func TestShouldRestart_DenyIffCountReachesMax(t *testing.T) {
	now := time.Now()
	for maxAttempts := 1; maxAttempts <= 4; maxAttempts++ {
		p := NewPolicy(Config{MaxAttempts: maxAttempts, Window: 10 * time.Second, BackoffBase: 10 * time.Millisecond, BackoffCap: 70 * time.Millisecond})
		for inside := 0; inside <= 6; inside++ {
			for outside := 0; outside <= 2; outside++ {
				var rec Record
				for i := 0; i < outside; i++ {
					rec = rec.Add(now.Add(-time.Minute))
				}
				for i := 0; i < inside; i++ {
					rec = rec.Add(now.Add(-time.Second))
				}
				d := p.ShouldRestart(rec, now)
				if inside >= maxAttempts {
					assert.False(t, d.Allow, "max=%d inside=%d", maxAttempts, inside)
					continue
				}
				require.True(t, d.Allow, "max=%d inside=%d", maxAttempts, inside)
				want := 10 * time.Millisecond << inside
				if want > 70*time.Millisecond {
					want = 70 * time.Millisecond
				}
				assert.Equal(t, want, d.Delay, "max=%d inside=%d", maxAttempts, inside)
			}
		}
	}
}

func TestBackoffDoesNotOverflow(t *testing.T) {
	p := NewPolicy(Config{BackoffBase: time.Second, BackoffCap: time.Hour})
	assert.Equal(t, time.Hour, p.Backoff(200))
}

func TestNewPolicyDefaults(t *testing.T) {
	cfg := NewPolicy(Config{}).Config()
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultWindow, cfg.Window)
	assert.Equal(t, DefaultBackoffBase, cfg.BackoffBase)
	assert.Equal(t, DefaultBackoffCap, cfg.BackoffCap)
}

func TestRecordIsImmutable(t *testing.T) {
	now := time.Now()
	a := Record{}.Add(now)
	b := a.Add(now.Add(time.Second))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, now.Add(time.Second), b.Last())

	pruned := b.Prune(now.Add(30*time.Second), 20*time.Second)
	assert.Equal(t, 0, pruned.Len())
	assert.Equal(t, 2, b.Len())
}
