package sampling

import "math"

// zQuantile returns the inverse of the standard normal CDF at probability p,
// using Acklam's rational approximation (relative error below 1.15e-9 across
// the open unit interval).
func zQuantile(p float64) float64 {
	if p <= 0 || p >= 1 {
		return math.NaN()
	}

	a := [6]float64{
		-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00,
	}
	b := [5]float64{
		-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01,
	}
	c := [6]float64{
		-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00,
	}
	d := [4]float64{
		7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00,
	}

	const low, high = 0.02425, 1 - 0.02425

	switch {
	case p < low:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p > high:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	default:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	}
}

// zForConfidence maps a two-sided confidence level in percent (e.g. 95) to
// its critical value (1.96).
func zForConfidence(confidenceLevel float64) float64 {
	alpha := 1 - confidenceLevel/100
	return zQuantile(1 - alpha/2)
}

// normalCDF is the standard normal distribution function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// normalInterval is the Wald interval around an observed proportion,
// clamped to [0,1]. Adequate for n of 30 or more.
func normalInterval(p float64, n int, z float64) (lower, upper float64) {
	se := math.Sqrt(p * (1 - p) / float64(n))
	return clamp01(p - z*se), clamp01(p + z*se)
}

// wilsonInterval is the Wilson score interval, which stays sane for small
// samples and proportions near the boundaries where the Wald interval
// collapses.
func wilsonInterval(p float64, n int, z float64) (lower, upper float64) {
	nf := float64(n)
	z2 := z * z
	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	margin := z / denom * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf))
	return clamp01(center - margin), clamp01(center + margin)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
