package gate

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func mustGate(t *testing.T, zone string, w Window, opts ...Option) *Gate {
	t.Helper()
	g, err := New(zone, w, opts...)
	if err != nil {
		t.Fatalf("New(%q, %v): %v", zone, w, err)
	}
	return g
}

func TestAllowedOutsideWindow(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "Eastern Time (US & Canada)", Window{Start: 1, End: 7})
	loc := g.Location()

	for h := 0; h < 1; h++ {
		at := time.Date(2024, time.January, 15, h, 0, 0, 0, loc)
		if !g.AllowedAt(at) {
			t.Fatalf("hour %d before window: allowed=false, want true", h)
		}
	}
	for h := 7; h < 24; h++ {
		at := time.Date(2024, time.January, 15, h, 0, 0, 0, loc)
		if !g.AllowedAt(at) {
			t.Fatalf("hour %d after window: allowed=false, want true", h)
		}
	}
}

func TestDisallowedInsideWindow(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "Eastern Time (US & Canada)", Window{Start: 1, End: 7})
	for h := 1; h < 7; h++ {
		at := time.Date(2024, time.January, 15, h, 42, 0, 0, g.Location())
		if g.AllowedAt(at) {
			t.Fatalf("hour %d:42 inside window: allowed=true, want false", h)
		}
	}
}

func TestOneToSevenScenario(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "Eastern Time (US & Canada)", Window{Start: 1, End: 7})
	tests := []struct {
		h, m, s int
		want    bool
	}{
		{0, 0, 0, true},
		{1, 0, 0, false},
		{6, 59, 59, false},
		{7, 0, 0, true},
		{23, 0, 0, true},
	}
	for _, tt := range tests {
		at := time.Date(2024, time.March, 1, tt.h, tt.m, tt.s, 0, g.Location())
		if got := g.AllowedAt(at); got != tt.want {
			t.Fatalf("%02d:%02d:%02d allowed=%v, want %v", tt.h, tt.m, tt.s, got, tt.want)
		}
	}
}

func TestVerdictIndependentOfInputZone(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "America/New_York", Window{Start: 1, End: 7})
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load Asia/Tokyo: %v", err)
	}
	for h := 0; h < 24; h++ {
		local := time.Date(2024, time.July, 4, h, 30, 0, 0, g.Location())
		want := g.AllowedAt(local)
		if got := g.AllowedAt(local.UTC()); got != want {
			t.Fatalf("hour %d: UTC input allowed=%v, local input allowed=%v", h, got, want)
		}
		if got := g.AllowedAt(local.In(tokyo)); got != want {
			t.Fatalf("hour %d: Tokyo input allowed=%v, local input allowed=%v", h, got, want)
		}
		if got := Allowed(local.UTC(), g.Location(), g.Window()); got != want {
			t.Fatalf("hour %d: Allowed() = %v, want %v", h, got, want)
		}
	}
}

func TestMinutesAndSecondsIgnored(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "UTC", Window{Start: 9, End: 17})
	for h := 0; h < 24; h++ {
		want := g.AllowedAt(time.Date(2024, 5, 5, h, 0, 0, 0, time.UTC))
		for _, ms := range [][2]int{{0, 1}, {15, 0}, {30, 30}, {59, 59}} {
			at := time.Date(2024, 5, 5, h, ms[0], ms[1], 999, time.UTC)
			if got := g.AllowedAt(at); got != want {
				t.Fatalf("%02d:%02d:%02d allowed=%v, want %v", h, ms[0], ms[1], got, want)
			}
		}
	}
}

func TestDaylightSavingOffset(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "Eastern Time (US & Canada)", Window{Start: 1, End: 7})

	// 05:30 UTC is 00:30 EST in winter and 01:30 EDT in summer.
	winter := time.Date(2024, time.January, 10, 5, 30, 0, 0, time.UTC)
	summer := time.Date(2024, time.July, 10, 5, 30, 0, 0, time.UTC)
	if !g.AllowedAt(winter) {
		t.Fatalf("winter 05:30Z should be allowed (00:30 EST)")
	}
	if g.AllowedAt(summer) {
		t.Fatalf("summer 05:30Z should be closed (01:30 EDT)")
	}
}

func TestEmptyWindowAlwaysAllowed(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "UTC", Window{Start: 5, End: 5})
	for h := 0; h < 24; h++ {
		if !g.AllowedAt(time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC)) {
			t.Fatalf("empty window closed at hour %d", h)
		}
	}
}

func TestOvernightWindow(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "UTC", Window{Start: 22, End: 4, Overnight: true})
	closed := map[int]bool{22: true, 23: true, 0: true, 1: true, 2: true, 3: true}
	for h := 0; h < 24; h++ {
		got := g.AllowedAt(time.Date(2024, 1, 1, h, 10, 0, 0, time.UTC))
		if got == closed[h] {
			t.Fatalf("hour %d allowed=%v, want %v", h, got, !closed[h])
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		zone string
		w    Window
		want error
	}{
		{name: "unknown zone", zone: "Mars/Olympus_Mons", w: Window{Start: 1, End: 7}, want: ErrUnknownZone},
		{name: "empty zone", zone: "  ", w: Window{Start: 1, End: 7}, want: ErrUnknownZone},
		{name: "local zone", zone: "Local", w: Window{Start: 1, End: 7}, want: ErrUnknownZone},
		{name: "start too high", zone: "UTC", w: Window{Start: 24, End: 7}, want: ErrHourRange},
		{name: "negative end", zone: "UTC", w: Window{Start: 1, End: -1}, want: ErrHourRange},
		{name: "wrap without overnight", zone: "UTC", w: Window{Start: 22, End: 4}, want: ErrWrapNotEnabled},
		{name: "overnight in order", zone: "UTC", w: Window{Start: 1, End: 7, Overnight: true}, want: ErrOvernightOrder},
		{name: "overnight zero width", zone: "UTC", w: Window{Start: 3, End: 3, Overnight: true}, want: ErrOvernightOrder},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.zone, tt.w)
			if !errors.Is(err, tt.want) {
				t.Fatalf("New() err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckUsesInjectedClock(t *testing.T) {
	t.Parallel()
	closedAt := time.Date(2024, 2, 2, 8, 15, 0, 0, time.UTC) // 03:15 EST
	g := mustGate(t, "America/New_York", Window{Start: 1, End: 7}, WithClock(FixedClock(closedAt)))
	if g.Allowed() {
		t.Fatal("Allowed() = true at 03:15 EST")
	}
	if err := g.Check(); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("Check() = %v, want ErrWindowClosed", err)
	}

	openAt := closedAt.Add(6 * time.Hour)
	g2 := mustGate(t, "America/New_York", Window{Start: 1, End: 7}, WithClock(FixedClock(openAt)))
	if err := g2.Check(); err != nil {
		t.Fatalf("Check() = %v, want nil", err)
	}
}

func TestEvaluateDecision(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "Asia/Jakarta", Window{Start: 1, End: 7})
	at := time.Date(2024, 6, 1, 20, 5, 0, 0, time.UTC) // 03:05 WIB
	d := g.Evaluate(at)
	if d.Allowed || d.Hour != 3 {
		t.Fatalf("decision = %+v, want closed at hour 3", d)
	}
	if !d.At.Equal(at) || d.Local.Location() != g.Location() {
		t.Fatalf("decision instants not preserved: %+v", d)
	}
}

func TestNextOpen(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "America/New_York", Window{Start: 1, End: 7})
	loc := g.Location()

	open := time.Date(2024, 1, 10, 12, 0, 0, 0, loc)
	if got := g.NextOpen(open); !got.Equal(open) {
		t.Fatalf("NextOpen(open) = %v, want %v", got, open)
	}

	closed := time.Date(2024, 1, 10, 3, 15, 0, 0, loc)
	want := time.Date(2024, 1, 10, 7, 0, 0, 0, loc)
	if got := g.NextOpen(closed); !got.Equal(want) {
		t.Fatalf("NextOpen(03:15) = %v, want %v", got, want)
	}

	night := mustGate(t, "UTC", Window{Start: 22, End: 6, Overnight: true})
	late := time.Date(2024, 1, 10, 23, 10, 0, 0, time.UTC)
	want = time.Date(2024, 1, 11, 6, 0, 0, 0, time.UTC)
	if got := night.NextOpen(late); !got.Equal(want) {
		t.Fatalf("NextOpen(23:10 overnight) = %v, want %v", got, want)
	}
}

func TestConcurrentEvaluation(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "Europe/London", Window{Start: 2, End: 5})
	base := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				at := base.Add(time.Duration(i*200+j) * time.Minute)
				if g.AllowedAt(at) != Allowed(at, g.Location(), g.Window()) {
					t.Errorf("inconsistent verdict at %v", at)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestClosedErrorCarriesDecision(t *testing.T) {
	t.Parallel()
	g := mustGate(t, "UTC", Window{Start: 1, End: 7})
	at := time.Date(2024, 4, 4, 2, 30, 0, 0, time.UTC)

	err := g.CheckAt(at)
	var ce *ClosedError
	if !errors.As(err, &ce) {
		t.Fatalf("CheckAt() = %v, want *ClosedError", err)
	}
	if ce.Decision.Hour != 2 || ce.Decision.Allowed {
		t.Fatalf("decision = %+v", ce.Decision)
	}
	if want := time.Date(2024, 4, 4, 7, 0, 0, 0, time.UTC); !ce.NextOpen.Equal(want) {
		t.Fatalf("NextOpen = %v, want %v", ce.NextOpen, want)
	}
	if !errors.Is(err, ErrWindowClosed) {
		t.Fatal("ClosedError does not unwrap to ErrWindowClosed")
	}
}
