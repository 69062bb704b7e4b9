package money

import "testing"

func TestApplyPercentRoundsHalfAwayFromZero(t *testing.T) {
	if got := ApplyPercent(10000, 10); got != 11000 {
		t.Fatalf("expected 11000, got %d", got)
	}
	if got := ApplyPercent(8000, 10); got != 8800 {
		t.Fatalf("expected 8800, got %d", got)
	}
	// 105 * 0.95 = 99.75
	if got := ApplyPercent(105, -5); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestApplyRate(t *testing.T) {
	if got := ApplyRate(19500, 0.18); got != 3510 {
		t.Fatalf("expected 3510, got %d", got)
	}
	if got := ApplyRate(19500, 0); got != 0 {
		t.Fatalf("expected 0 tax, got %d", got)
	}
	if got := ApplyRate(5, 0.5); got != 3 {
		t.Fatalf("expected 2.5 to round to 3, got %d", got)
	}
}

func TestRatioAndAverageHandleZero(t *testing.T) {
	if got := Ratio(21, 0); got != 0 {
		t.Fatalf("expected 0 ratio for zero denominator, got %f", got)
	}
	if got := Average(100, 0); got != 0 {
		t.Fatalf("expected 0 average for zero count, got %d", got)
	}
	if got := Average(100, 3); got != 33 {
		t.Fatalf("expected 33, got %d", got)
	}
}

func TestFormat(t *testing.T) {
	cases := map[int64]string{
		0:         "₹0.00",
		19500:     "₹195.00",
		123456789: "₹1,234,567.89",
		-550:      "-₹5.50",
	}
	for cents, want := range cases {
		if got := Format(cents, "₹"); got != want {
			t.Fatalf("Format(%d) = %q, want %q", cents, got, want)
		}
	}
}
