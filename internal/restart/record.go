package restart

import "time"

// Record is the ordered list of restart timestamps inside the rolling window.
// The zero value is an empty record. Record values are immutable; Add and Prune
// return new records.
type Record struct {
	at []time.Time
}

// Add appends a restart timestamp. Timestamps earlier than the last entry are
// clamped so the record stays ordered.
func (r Record) Add(t time.Time) Record {
	n := len(r.at)
	if n > 0 && t.Before(r.at[n-1]) {
		t = r.at[n-1]
	}
	out := make([]time.Time, n, n+1)
	copy(out, r.at)
	return Record{at: append(out, t)}
}

// Prune drops entries older than window relative to now.
func (r Record) Prune(now time.Time, window time.Duration) Record {
	cutoff := now.Add(-window)
	i := 0
	for i < len(r.at) && r.at[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return r
	}
	out := make([]time.Time, len(r.at)-i)
	copy(out, r.at[i:])
	return Record{at: out}
}

func (r Record) Len() int { return len(r.at) }

// Times returns a copy of the recorded timestamps, oldest first.
func (r Record) Times() []time.Time {
	out := make([]time.Time, len(r.at))
	copy(out, r.at)
	return out
}

// Last returns the most recent restart time, or the zero time when empty.
func (r Record) Last() time.Time {
	if len(r.at) == 0 {
		return time.Time{}
	}
	return r.at[len(r.at)-1]
}
