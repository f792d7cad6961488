package reactor

import (
	"testing"
	"time"
)

func TestTimerHeap_Order(t *testing.T) {
	var h timerHeap
	base := time.Now()
	var got []int

	h.schedule(base.Add(20*time.Millisecond), 1, func() { got = append(got, 3) })
	h.schedule(base, 2, func() { got = append(got, 1) })
	h.schedule(base, 3, func() { got = append(got, 2) })

	for {
		tm := h.popDue(base.Add(time.Second))
		if tm == nil {
			break
		}
		tm.fn()
	}

	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("fired %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fired %v, want %v", got, want)
			break
		}
	}
}

func TestTimerHeap_Cancel(t *testing.T) {
	var h timerHeap
	base := time.Now()

	a := h.schedule(base, 1, func() { t.Error("cancelled timer fired") })
	b := h.schedule(base, 2, func() {})

	a.Cancel()
	a.Cancel()
	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}

	if tm := h.popDue(base); tm != b {
		t.Fatal("popDue did not return remaining timer")
	}
	b.Cancel() // already fired
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
}

func TestTimerHeap_NotDue(t *testing.T) {
	var h timerHeap
	base := time.Now()
	h.schedule(base.Add(time.Minute), 1, func() {})

	if tm := h.popDue(base); tm != nil {
		t.Error("popDue returned a timer before its deadline")
	}
	when, ok := h.next()
	if !ok || !when.Equal(base.Add(time.Minute)) {
		t.Errorf("next() = %v, %v", when, ok)
	}
}
