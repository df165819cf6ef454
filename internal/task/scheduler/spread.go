package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule delays the first run of an interval schedule; afterwards it
// delegates to the base schedule.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// spreadInterval returns an interval schedule whose first run is offset by a
// per-name whole number of seconds below min(every, maxStartupSpread). The
// offset is derived from the name, so a restart keeps each task's phase.
// cron intervals tick on whole seconds, so the first fire is aligned too.
func spreadInterval(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	secs := uint64(min(every, maxStartupSpread) / time.Second)
	if secs == 0 {
		return base, 0
	}
	offset := time.Duration(fnv64a(name)%secs) * time.Second
	first := now.Add(every + offset).Truncate(time.Second)
	return &spreadSchedule{base: base, first: first}, offset
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
