package laser

import (
	"math"
	"testing"
)

func TestShortLongToCB(t *testing.T) {
	cb := ShortLongToCB(500, 600)
	if cb.Center != 550 || cb.Bandwidth != 100 {
		t.Errorf("expected 550/100, got %+v", cb)
	}
	s, l := cb.ToShortLong()
	if s != 500 || l != 600 {
		t.Errorf("expected (500,600), got (%f,%f)", s, l)
	}
}

func TestShortLongToCBRoundsBandwidth(t *testing.T) {
	cb := ShortLongToCB(500.04, 510.0)
	if math.Abs(cb.Bandwidth-10) > 1e-9 {
		t.Errorf("expected bandwidth rounded to 10, got %f", cb.Bandwidth)
	}
}

func TestCenterLimits(t *testing.T) {
	lo, hi := CenterLimits(10)
	if lo != 395 || hi != 845 {
		t.Errorf("expected (395,845), got (%f,%f)", lo, hi)
	}
}
