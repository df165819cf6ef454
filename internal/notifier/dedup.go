package notifier

import (
	"sync"
	"time"
)

// dedupSet remembers alert keys until their window expires.
type dedupSet struct {
	mu    sync.Mutex
	until map[string]time.Time
}

// admit reports whether key is new at now and, if so, suppresses it for
// window. The set never grows past limit; the soonest expiries go first.
func (d *dedupSet) admit(key string, now time.Time, window time.Duration, limit int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.until[key]; ok && now.Before(exp) {
		return false
	}
	for k, exp := range d.until {
		if !now.Before(exp) {
			delete(d.until, k)
		}
	}
	d.until[key] = now.Add(window)
	for len(d.until) > limit {
		var (
			oldest string
			at     time.Time
		)
		for k, exp := range d.until {
			if oldest == "" || exp.Before(at) {
				oldest, at = k, exp
			}
		}
		delete(d.until, oldest)
	}
	return true
}
