package monitor

import (
	"testing"
	"time"

	"github.com/polystatics/polystatics/internal/models"
)

// prices collects the history oldest first.
func prices(h *History) []float64 {
	var out []float64
	h.Each(func(s models.Sample) bool {
		out = append(out, s.Price)
		return true
	})
	return out
}

func snapshotOf(m *Monitor, marketID string) (*Snapshot, bool) {
	snap, ok := m.store.snapshots[marketID]
	return snap, ok
}

func TestHistory_PushWithinCapacity(t *testing.T) {
	h := NewHistory(3)
	if h.Len() != 0 {
		t.Error("expected empty history")
	}
	for i := 0; i < 3; i++ {
		h.Push(models.Sample{Price: float64(i)})
	}
	got := prices(h)
	if h.Len() != 3 || len(got) != 3 {
		t.Fatalf("len = %d (%d visited), want 3", h.Len(), len(got))
	}
	for i := range got {
		if got[i] != float64(i) {
			t.Errorf("sample %d = %v, want %v", i, got[i], i)
		}
	}
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Push(models.Sample{Price: float64(i)})
	}
	got := prices(h)
	want := []float64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestHistory_BoundedAt200(t *testing.T) {
	store := NewStore(200)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	const observations = 250
	var snap *Snapshot
	for i := 0; i < observations; i++ {
		snap = store.Observe("m-1", 0.5, base.Add(time.Duration(i)*2*time.Second))
	}

	if snap.History.Len() != 200 {
		t.Fatalf("history length = %d, want 200", snap.History.Len())
	}
	var oldest models.Sample
	snap.History.Each(func(s models.Sample) bool {
		oldest = s
		return false
	})
	// the 200th most recent of 250 observations is observation #50
	if want := base.Add(50 * 2 * time.Second); !oldest.Time.Equal(want) {
		t.Errorf("oldest sample at %v, want %v", oldest.Time, want)
	}
}

func TestHistory_EachStopsEarly(t *testing.T) {
	h := NewHistory(4)
	for i := 0; i < 4; i++ {
		h.Push(models.Sample{Price: float64(i)})
	}
	visited := 0
	h.Each(func(s models.Sample) bool {
		visited++
		return s.Price < 1
	})
	if visited != 2 {
		t.Errorf("visited %d samples, want 2", visited)
	}
}

func TestHistory_MinimumCapacity(t *testing.T) {
	h := NewHistory(0)
	h.Push(models.Sample{Price: 1})
	h.Push(models.Sample{Price: 2})
	if got := prices(h); len(got) != 1 || got[0] != 2 {
		t.Errorf("history = %v, want [2]", got)
	}
}
