package measurement

import (
	"math"
)

// Summary describes the temperatures recorded during a session.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes a Summary. All fields are zero for no points.
func Summarize(points []Point) Summary {
	if len(points) == 0 {
		return Summary{}
	}

	return Summary{
		Count:  len(points),
		Mean:   Mean(points),
		StdDev: StdDev(points),
		Min:    Min(points),
		Max:    Max(points),
	}
}

func Mean(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}

	var sum float64
	for _, p := range points {
		sum += p.Celsius
	}

	return sum / float64(len(points))
}

// StdDev is the population standard deviation.
func StdDev(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}

	avg := Mean(points)
	var sum float64
	for _, p := range points {
		sum += math.Pow(p.Celsius-avg, 2)
	}

	return math.Sqrt(sum / float64(len(points)))
}

func Min(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}

	x := math.MaxFloat64
	for _, p := range points {
		if p.Celsius < x {
			x = p.Celsius
		}
	}

	return x
}

func Max(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}

	x := -math.MaxFloat64
	for _, p := range points {
		if p.Celsius > x {
			x = p.Celsius
		}
	}

	return x
}
