package engine

import "math"

// Abramowitz & Stegun 26.2.17 coefficients for the normal CDF rational
// approximation, accurate to about 7.5e-8.
const (
	cdfP  = 0.2316419
	cdfB1 = 0.319381530
	cdfB2 = -0.356563782
	cdfB3 = 1.781477937
	cdfB4 = -1.821255978
	cdfB5 = 1.330274429
)

// normalCDF returns P(Z <= x) for a standard normal Z.
func normalCDF(x float64) float64 {
	if x < 0 {
		return 1 - normalCDF(-x)
	}
	t := 1 / (1 + cdfP*x)
	poly := t * (cdfB1 + t*(cdfB2+t*(cdfB3+t*(cdfB4+t*cdfB5))))
	pdf := math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
	return 1 - pdf*poly
}

// twoProportionConfidence runs a pooled two-proportion z-test and returns the
// two-sided confidence that the conversion rates differ. It reports 0 when
// either sample is below minSample or the pooled standard error collapses,
// so callers can distinguish "insufficient data" from "no difference proven".
func twoProportionConfidence(convControl, nControl, convVariant, nVariant, minSample int64) float64 {
	if nControl < minSample || nVariant < minSample {
		return 0
	}
	p := float64(convControl+convVariant) / float64(nControl+nVariant)
	se := math.Sqrt(p * (1 - p) * (1/float64(nControl) + 1/float64(nVariant)))
	if se == 0 {
		return 0
	}
	pc := float64(convControl) / float64(nControl)
	pv := float64(convVariant) / float64(nVariant)
	z := (pv - pc) / se
	return 2*normalCDF(math.Abs(z)) - 1
}

// liftVsControl returns the relative rate difference, 0 when the control
// rate is 0.
func liftVsControl(controlRate, variantRate float64) float64 {
	if controlRate == 0 {
		return 0
	}
	return (variantRate - controlRate) / controlRate
}

// statsMinSample is the floor below which no significance test is attempted
// regardless of the experiment's configured minimum.
const statsMinSample = 10

// analyzeVariants is the pure computation at the heart of Analyze: rates,
// lift and confidence versus control, the current best variant, and whether
// the winner guard is satisfied. Rates here use assigned subjects as the
// denominator so experiments whose delivery system reports only conversions
// still analyze correctly.
func analyzeVariants(exp Experiment, variants []Variant) AnalysisResult {
	result := AnalysisResult{ExperimentID: exp.ID, Variants: make([]VariantStats, 0, len(variants))}

	minSample := exp.MinSampleSize
	if minSample < statsMinSample {
		minSample = statsMinSample
	}

	var control *Variant
	for i := range variants {
		if variants[i].IsControl {
			control = &variants[i]
			break
		}
	}

	rate := func(v Variant) float64 {
		if v.SampleSize == 0 {
			return 0
		}
		return float64(v.Conversions) / float64(v.SampleSize)
	}

	metric := func(v Variant) float64 {
		switch exp.PrimaryMetric {
		case "value_per_conversion":
			divisor := v.Conversions
			if divisor < 1 {
				divisor = 1
			}
			return v.TotalValue / float64(divisor)
		case "total_value":
			return v.TotalValue
		default:
			return rate(v)
		}
	}

	var winner *Variant
	winnerIdx := -1
	for i := range variants {
		v := variants[i]
		stats := VariantStats{
			Code:           v.Code,
			IsControl:      v.IsControl,
			SampleSize:     v.SampleSize,
			Impressions:    v.Impressions,
			Conversions:    v.Conversions,
			TotalValue:     v.TotalValue,
			ConversionRate: rate(v),
		}
		if control != nil && !v.IsControl {
			stats.LiftVsControl = liftVsControl(rate(*control), rate(v))
			stats.ConfidenceVsControl = twoProportionConfidence(
				control.Conversions, control.SampleSize, v.Conversions, v.SampleSize, minSample)
		}
		result.Variants = append(result.Variants, stats)
		result.TotalSample += v.SampleSize

		if winner == nil || metric(v) > metric(*winner) {
			winner = &variants[i]
			winnerIdx = len(result.Variants) - 1
		}
	}

	if winner == nil {
		return result
	}
	result.CurrentWinner = winner.Code
	if !winner.IsControl && control != nil {
		result.Confidence = result.Variants[winnerIdx].ConfidenceVsControl
		result.CanDeclareWinner = result.Confidence >= exp.ConfidenceThreshold &&
			winner.SampleSize >= exp.MinSampleSize &&
			control.SampleSize >= exp.MinSampleSize
	}
	return result
}
