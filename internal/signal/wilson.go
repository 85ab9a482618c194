package signal

import "math"

// Z95 is the normal quantile for a 95% interval.
const Z95 = 1.96

// WilsonLowerBound is the lower bound of the Wilson score interval for
// positive successes out of total trials. It returns 0 when there are no
// trials or no successes.
func WilsonLowerBound(positive, total int, z float64) float64 {
	if total <= 0 || positive <= 0 {
		return 0
	}
	if positive > total {
		positive = total
	}

	n := float64(total)
	p := float64(positive) / n
	z2 := z * z

	centre := p + z2/(2*n)
	margin := z * math.Sqrt((p*(1-p)+z2/(4*n))/n)

	return math.Max(0, (centre-margin)/(1+z2/n))
}
