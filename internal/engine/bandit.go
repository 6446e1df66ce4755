package engine

import "math"

// sampleBeta draws from Beta(alpha, beta) using the gamma-ratio identity
// Beta(a, b) = Gamma(a, 1) / (Gamma(a, 1) + Gamma(b, 1)).
func sampleBeta(r RandSource, alpha, beta float64) float64 {
	ga := sampleGamma(r, alpha)
	gb := sampleGamma(r, beta)
	return ga / (ga + gb)
}

// sampleGamma draws from Gamma(shape, 1) via Marsaglia and Tsang's method.
func sampleGamma(r RandSource, shape float64) float64 {
	if shape < 1 {
		// Boost to shape+1 and correct with a uniform power.
		return sampleGamma(r, shape+1) * math.Pow(r.Float64(), 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		x := r.NormFloat64()
		v := 1.0 + c*x
		v = v * v * v
		if v <= 0 {
			continue
		}
		u := r.Float64()
		x2 := x * x
		if u < 1.0-0.0331*x2*x2 {
			return d * v
		}
		if math.Log(u) < 0.5*x2+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// thompsonPick draws one Beta sample per arm and returns the index of the
// largest draw. Arms with little evidence have wide posteriors and still win
// occasionally, so exploration needs no separate schedule.
func thompsonPick(r RandSource, arms []BanditArm) int {
	best := 0
	bestSample := -1.0
	for i, arm := range arms {
		s := sampleBeta(r, arm.Alpha, arm.Beta)
		if s > bestSample {
			bestSample = s
			best = i
		}
	}
	return best
}
