package tracer

import "math/rand"

// sampler makes probabilistic sampling decisions. Per-service/per-operation
// rules are consulted first; the first matching rule wins, otherwise the
// default rate applies.
type sampler struct {
	defaultRate float64
	rules       []SamplingRule
}

func newSampler(defaultRate float64, rules []SamplingRule) *sampler {
	return &sampler{defaultRate: defaultRate, rules: rules}
}

func (s *sampler) decide(service, operation string) bool {
	rate := s.defaultRate
	for _, r := range s.rules {
		if r.Service != "" && r.Service != service {
			continue
		}
		if r.Operation != "" && r.Operation != operation {
			continue
		}
		rate = r.Rate
		break
	}
	if rate >= 1.0 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return rand.Float64() < rate
}
