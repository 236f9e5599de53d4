package tracer

import "testing"

func TestSampler_DefaultRate(t *testing.T) {
	always := newSampler(1.0, nil)
	for i := 0; i < 100; i++ {
		if !always.decide("svc", "op") {
			t.Fatal("rate 1.0 returned false")
		}
	}

	never := newSampler(0, nil)
	for i := 0; i < 100; i++ {
		if never.decide("svc", "op") {
			t.Fatal("rate 0 returned true")
		}
	}
}

func TestSampler_Rules(t *testing.T) {
	s := newSampler(1.0, []SamplingRule{
		{Service: "checkout", Operation: "health-check", Rate: 0},
		{Operation: "debug-dump", Rate: 0},
	})

	if s.decide("checkout", "health-check") {
		t.Error("rule with rate 0 sampled the span")
	}
	if s.decide("billing", "debug-dump") {
		t.Error("service-agnostic rule did not match")
	}
	if !s.decide("billing", "health-check") {
		t.Error("rule for another service suppressed sampling")
	}
	if !s.decide("checkout", "process-order") {
		t.Error("unmatched operation fell through to rate 0")
	}
}

func TestSampler_FirstMatchWins(t *testing.T) {
	s := newSampler(0, []SamplingRule{
		{Operation: "op", Rate: 1},
		{Operation: "op", Rate: 0},
	})

	for i := 0; i < 100; i++ {
		if !s.decide("svc", "op") {
			t.Fatal("later rule overrode the first match")
		}
	}
}

func TestSampler_FractionalRate(t *testing.T) {
	s := newSampler(0.5, nil)

	sampled := 0
	const n = 10000
	for i := 0; i < n; i++ {
		if s.decide("svc", "op") {
			sampled++
		}
	}
	// Loose bounds; flakes here would mean a badly broken RNG.
	if sampled < n/4 || sampled > 3*n/4 {
		t.Errorf("sampled %d of %d at rate 0.5", sampled, n)
	}
}
