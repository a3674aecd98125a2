package pricing

import (
	"math"
	"testing"
	"time"
)

func TestVelocityTracker_SingleSampleAbsent(t *testing.T) {
	tr := NewVelocityTracker(5 * time.Minute)
	now := time.Now()
	tr.PushPrice("tok", 0.50, now)

	if _, ok := tr.GetPriceVelocity("tok", 0.55, now); ok {
		t.Fatalf("expected absent with one sample")
	}
}

func TestVelocityTracker_TwoSamples(t *testing.T) {
	tr := NewVelocityTracker(5 * time.Minute)
	now := time.Now()
	// 窗口内相隔 1000ms 的两个样本
	tr.PushPrice("tok", 0.40, now.Add(-time.Second))
	tr.PushPrice("tok", 0.50, now)

	v, ok := tr.GetPriceVelocity("tok", 0.50, now)
	if !ok {
		t.Fatalf("expected velocity available")
	}
	want := (0.50 - 0.40) / 0.40 * 100
	if math.Abs(v.VelocityPct-want) > 1e-9 {
		t.Fatalf("velocityPct got=%v want=%v", v.VelocityPct, want)
	}
	if v.PriceAtWindowStart != 0.40 {
		t.Fatalf("window start got=%v want=0.40", v.PriceAtWindowStart)
	}
}

func TestVelocityTracker_PrunesOldSamples(t *testing.T) {
	tr := NewVelocityTracker(5 * time.Minute)
	now := time.Now()
	tr.PushPrice("tok", 0.10, now.Add(-10*time.Minute)) // 窗口外
	tr.PushPrice("tok", 0.40, now.Add(-time.Minute))
	tr.PushPrice("tok", 0.50, now)

	v, ok := tr.GetPriceVelocity("tok", 0.50, now)
	if !ok {
		t.Fatalf("expected velocity available")
	}
	// 0.10 的旧样本不应参与计算
	want := (0.50 - 0.40) / 0.40 * 100
	if math.Abs(v.VelocityPct-want) > 1e-9 {
		t.Fatalf("stale sample included: got=%v want=%v", v.VelocityPct, want)
	}
}

func TestVelocityTracker_PerTokenIsolation(t *testing.T) {
	tr := NewVelocityTracker(5 * time.Minute)
	now := time.Now()
	tr.PushPrice("a", 0.40, now.Add(-time.Second))
	tr.PushPrice("a", 0.50, now)
	tr.PushPrice("b", 0.60, now)

	if _, ok := tr.GetPriceVelocity("b", 0.60, now); ok {
		t.Fatalf("token b has one sample, expected absent")
	}
	if _, ok := tr.GetPriceVelocity("a", 0.50, now); !ok {
		t.Fatalf("token a should be available")
	}
}
