package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "every prefix hhmm", raw: "every:00:50", kind: SpecInterval, source: "hhmm", duration: 50 * time.Minute},
		{name: "descriptor", raw: "@daily", kind: SpecCron, source: "cron"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "cron:", "interval:-5m", "00:00", "every:soon"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseClock("23:15")
	if err != nil {
		t.Fatalf("parseClock error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	if _, _, err := parseClock("24:00"); err == nil {
		t.Fatal("expected error for invalid hour")
	}
}

func TestParseScheduleRejectsBadCron(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"61 * * * *", "cron:* * *", "@fortnightly"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestNextFires(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	from := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) // 08:00 EDT

	got, err := NextFires("30 2 * * *", ny, from, 2)
	if err != nil {
		t.Fatalf("NextFires: %v", err)
	}
	want := []string{"2024-06-02T02:30:00-04:00", "2024-06-03T02:30:00-04:00"}
	if len(got) != len(want) {
		t.Fatalf("got %d fires", len(got))
	}
	for i := range want {
		if got[i].Format(time.RFC3339) != want[i] {
			t.Fatalf("fire[%d] = %s, want %s", i, got[i].Format(time.RFC3339), want[i])
		}
	}

	every, err := NextFires("90m", nil, from, 2)
	if err != nil {
		t.Fatalf("NextFires interval: %v", err)
	}
	if !every[0].Equal(from.Add(90*time.Minute)) || !every[1].Equal(from.Add(3*time.Hour)) {
		t.Fatalf("interval fires = %v", every)
	}
}

func TestSpreadIntervalIsStablePerName(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, a1 := spreadInterval(time.Minute, now, "backup")
	_, a2 := spreadInterval(time.Minute, now, "backup")
	if a1 != a2 {
		t.Fatalf("offset changed between calls: %v vs %v", a1, a2)
	}
	sched, off := spreadInterval(10*time.Second, now, "digest")
	if off < 0 || off >= 10*time.Second {
		t.Fatalf("offset %v out of range", off)
	}
	first := sched.Next(now)
	if !first.Equal(now.Add(10*time.Second + off)) {
		t.Fatalf("first = %v", first)
	}
	if next := sched.Next(first); !next.Equal(first.Add(10 * time.Second)) {
		t.Fatalf("second = %v", next)
	}
	if off%time.Second != 0 {
		t.Fatalf("offset %v is not whole seconds", off)
	}

	ragged := now.Add(123456789 * time.Nanosecond)
	sched, _ = spreadInterval(time.Minute, ragged, "backup")
	first = sched.Next(ragged)
	if first.Nanosecond() != 0 {
		t.Fatalf("first fire %v not second aligned", first)
	}
	if next := sched.Next(first); !next.Equal(first.Add(time.Minute)) {
		t.Fatalf("phase drifted: %v after %v", next, first)
	}
}
