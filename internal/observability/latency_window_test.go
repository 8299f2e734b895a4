package observability

import (
	"math"
	"testing"
	"time"
)

func TestLatencyWindowSnapshotComputesQuantiles(t *testing.T) {
	w := NewLatencyWindow(16)
	for i := 1; i <= 10; i++ {
		w.Observe("send_to_first_audio", float64(i*100))
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("Snapshot() stages = %d, want 1", len(snap.Stages))
	}
	st := snap.Stages[0]
	if st.Stage != "send_to_first_audio" {
		t.Fatalf("stage = %q, want send_to_first_audio", st.Stage)
	}
	if st.Samples != 10 {
		t.Fatalf("samples = %d, want 10", st.Samples)
	}
	if st.LastMS != 1000 {
		t.Fatalf("last = %v, want 1000", st.LastMS)
	}
	if st.AvgMS != 550 {
		t.Fatalf("avg = %v, want 550", st.AvgMS)
	}
	if st.P50MS != 550 {
		t.Fatalf("p50 = %v, want 550", st.P50MS)
	}
	if st.P95MS != 955 {
		t.Fatalf("p95 = %v, want 955", st.P95MS)
	}
	if st.TargetP95MS != 1500 {
		t.Fatalf("target = %v, want 1500", st.TargetP95MS)
	}
}

func TestLatencyWindowEvictsOldestSamples(t *testing.T) {
	w := NewLatencyWindow(4)
	for i := 0; i < 8; i++ {
		w.Observe("response_total", float64(i))
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("Snapshot() stages = %d, want 1", len(snap.Stages))
	}
	st := snap.Stages[0]
	if st.Samples != 4 {
		t.Fatalf("samples = %d, want 4", st.Samples)
	}
	// Only 4..7 survive.
	if st.AvgMS != 5.5 {
		t.Fatalf("avg = %v, want 5.5", st.AvgMS)
	}
	if st.P50MS != 5.5 {
		t.Fatalf("p50 = %v, want 5.5", st.P50MS)
	}
}

func TestLatencyWindowIgnoresInvalidObservations(t *testing.T) {
	w := NewLatencyWindow(8)
	w.Observe("", 100)
	w.Observe("send_to_response_created", -1)

	snap := w.Snapshot()
	if len(snap.Stages) != 0 {
		t.Fatalf("Snapshot() stages = %d, want 0", len(snap.Stages))
	}
}

func TestLatencyWindowStagesSortedByName(t *testing.T) {
	w := NewLatencyWindow(8)
	w.Observe("response_total", 900)
	w.Observe("send_to_first_audio", 400)
	w.Observe("send_to_response_created", 120)

	snap := w.Snapshot()
	if len(snap.Stages) != 3 {
		t.Fatalf("Snapshot() stages = %d, want 3", len(snap.Stages))
	}
	want := []string{"response_total", "send_to_first_audio", "send_to_response_created"}
	for i, st := range snap.Stages {
		if st.Stage != want[i] {
			t.Fatalf("stages[%d] = %q, want %q", i, st.Stage, want[i])
		}
	}
}

func TestLatencyWindowIndicators(t *testing.T) {
	w := NewLatencyWindow(8)
	w.ObserveIndicator("audio_chunks")
	w.ObserveIndicator("audio_chunks")
	w.ObserveIndicator(" reconnects ")
	w.ObserveIndicator("")

	snap := w.Snapshot()
	if len(snap.Indicators) != 2 {
		t.Fatalf("Snapshot() indicators = %d, want 2", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "audio_chunks" || snap.Indicators[0].Count != 2 {
		t.Fatalf("indicators[0] = %+v, want audio_chunks x2", snap.Indicators[0])
	}
	if snap.Indicators[1].Name != "reconnects" || snap.Indicators[1].Count != 1 {
		t.Fatalf("indicators[1] = %+v, want reconnects x1", snap.Indicators[1])
	}
}

func TestLatencyWindowReset(t *testing.T) {
	w := NewLatencyWindow(8)
	w.Observe("response_total", 100)
	w.ObserveIndicator("audio_chunks")
	w.Reset()

	snap := w.Snapshot()
	if len(snap.Stages) != 0 || len(snap.Indicators) != 0 {
		t.Fatalf("Snapshot() after reset = %+v, want empty", snap)
	}
}

func TestLatencyWindowObserveSince(t *testing.T) {
	w := NewLatencyWindow(8)
	w.ObserveSince("send_to_response_created", time.Now().Add(-200*time.Millisecond))

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("Snapshot() stages = %d, want 1", len(snap.Stages))
	}
	got := snap.Stages[0].LastMS
	if math.Abs(got-200) > 100 {
		t.Fatalf("last = %v, want roughly 200", got)
	}
}

func TestQuantileInterpolates(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	if got := quantile(sorted, 0); got != 10 {
		t.Fatalf("quantile(0) = %v, want 10", got)
	}
	if got := quantile(sorted, 1); got != 40 {
		t.Fatalf("quantile(1) = %v, want 40", got)
	}
	if got := quantile(sorted, 0.5); got != 25 {
		t.Fatalf("quantile(0.5) = %v, want 25", got)
	}
	if got := quantile(nil, 0.5); got != 0 {
		t.Fatalf("quantile(nil) = %v, want 0", got)
	}
}
