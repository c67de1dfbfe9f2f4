package domain

import "math"

// wilsonZ is the z-score for a 95% confidence interval.
const wilsonZ = 1.95996

// WilsonScore returns the lower bound of the Wilson confidence interval
// for a product's average rating, treating the 1-5 scale as a
// proportion of the maximum. Products with no ratings score zero, so a
// single five-star review cannot outrank a well-reviewed product.
func WilsonScore(averageRating float64, totalRatings int) float64 {
	if totalRatings <= 0 {
		return 0
	}
	p := averageRating / 5
	n := float64(totalRatings)
	z2 := wilsonZ * wilsonZ

	denominator := 1 + z2/n
	center := p + z2/(2*n)
	spread := wilsonZ * math.Sqrt((p*(1-p)+z2/(4*n))/n)

	return (center - spread) / denominator
}
