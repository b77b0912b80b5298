package mathx

import "testing"

func TestRoundTenth(t *testing.T) {
	cases := []struct{ in, out float64 }{
		{549.96, 550.0},
		{-0.14, -0.1},
		{0.25, 0.3},
	}
	for _, c := range cases {
		got := Round(c.in, 0.1)
		if diff := got - c.out; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("Round(%f, 0.1) = %f, expected %f", c.in, got, c.out)
		}
	}
}

func TestRoundZeroUnit(t *testing.T) {
	if Round(1.234, 0) != 1.234 {
		t.Error("zero unit should return the input unchanged")
	}
}

func TestRoundIsExactForTenths(t *testing.T) {
	if got := Round(550.04, 0.1); got != 550 {
		t.Errorf("expected exactly 550, got %v", got)
	}
	if got := Round(1234, 100); got != 1200 {
		t.Errorf("expected 1200, got %v", got)
	}
}
