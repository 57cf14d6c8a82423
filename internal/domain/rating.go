package domain

import "math"

// Add folds a single 1..5 rating into the aggregate. The average is kept to one decimal.
// Reviews counted in TotalReviews but missing from RatingsCount keep contributing the
// previous average.
func (r ProductRating) Add(rating int) ProductRating {
	counts := make(map[int]int, 5)
	counted := 0
	stars := 0.0
	for star, n := range r.RatingsCount {
		counts[star] = n
		counted += n
		stars += float64(star * n)
	}

	prevTotal := r.TotalReviews
	if prevTotal < counted {
		prevTotal = counted
	}
	stars += float64(prevTotal-counted) * r.AvgRating

	counts[rating]++
	stars += float64(rating)

	r.RatingsCount = counts
	r.TotalReviews = prevTotal + 1
	r.AvgRating = math.Round(stars/float64(r.TotalReviews)*10) / 10
	return r
}
