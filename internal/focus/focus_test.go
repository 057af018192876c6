package focus

import "testing"

func TestObserveScenario5(t *testing.T) {
	c := NewController(3.0, 0.2, 0.1)
	c.Begin(false)

	var lastOutcome Outcome
	var lastStep int32
	for _, v := range []float64{6.0, 6.0, 6.0} {
		lastOutcome, lastStep, _ = c.Observe(v)
	}
	if lastOutcome != OutcomeMove || lastStep != 500 {
		t.Fatalf("first convergence step = (%v, %d), want (Move, 500)", lastOutcome, lastStep)
	}

	for _, v := range []float64{5.2, 5.2, 5.2} {
		lastOutcome, lastStep, _ = c.Observe(v)
	}
	if lastOutcome != OutcomeMove || lastStep != 500 {
		t.Fatalf("second convergence step = (%v, %d), want (Move, 500) per clamp of raw +1100", lastOutcome, lastStep)
	}
}

func TestClampStepPreservesSign(t *testing.T) {
	cases := []struct {
		raw, want int32
	}{
		{6000, 5000},
		{-6000, -5000},
		{1800, 500},
		{-1800, -500},
		{99, 99},
		{-99, -99},
	}
	for _, c := range cases {
		if got := ClampStep(c.raw); got != c.want {
			t.Errorf("ClampStep(%d) = %d, want %d", c.raw, got, c.want)
		}
	}
}

func TestDecidesOnceWindowFills(t *testing.T) {
	c := NewController(5.0, 0.2, 0.1)
	c.Begin(false)
	c.haveLast = true
	c.lastFWHM = 5.05
	c.lastStep = 500
	c.filled = 0

	var outcome Outcome
	for _, v := range []float64{5.3, 5.3, 5.3} {
		outcome, _, _ = c.Observe(v)
	}
	if outcome != OutcomeMove && outcome != OutcomeConverged {
		t.Fatalf("expected a decision once window filled and diverging, got %v", outcome)
	}
}

func TestProtocolRoundTrip(t *testing.T) {
	begin := EncodeBegin(true)
	m, ok := Decode(begin)
	if !ok || m.Type != MsgFocusBegin || !m.Manual {
		t.Fatalf("decode begin: %+v ok=%v", m, ok)
	}

	end := EncodeEnd(1, 3.21)
	m, ok = Decode(end)
	if !ok || m.Type != MsgFocusEnd || m.Success != 1 || m.FWHM != 321 {
		t.Fatalf("decode end: %+v ok=%v", m, ok)
	}

	move := EncodeMove(-2000)
	m, ok = Decode(move)
	if !ok || m.Type != MsgFocusMove || m.Step != -2000 {
		t.Fatalf("decode move: %+v ok=%v", m, ok)
	}

	limit := EncodeLimit()
	m, ok = Decode(limit)
	if !ok || m.Type != MsgFocusLimit {
		t.Fatalf("decode limit: %+v ok=%v", m, ok)
	}
}

func TestDecodeRejectsBadCheckWord(t *testing.T) {
	buf := EncodeBegin(false)
	buf[1] = 0x00 // corrupt check word
	if _, ok := Decode(buf); ok {
		t.Errorf("expected rejection of bad check word")
	}
}
