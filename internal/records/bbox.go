package records

import "math"

// BoundingBox locates one OCRed word in the source PDF coordinate system,
// in points, rounded to one decimal place.
type BoundingBox struct {
	X0   float64 `json:"x0"`
	Y0   float64 `json:"y0"`
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	Word string  `json:"word"`
}

// BoxFromNormalized converts a normalized [0,1] word geometry to page
// coordinates: scale by the page dimensions, swap so x0<=x1 and y0<=y1,
// clamp into the page rectangle, and round to one decimal.
func BoxFromNormalized(word string, x0n, y0n, x1n, y1n, pageW, pageH float64) BoundingBox {
	x0 := x0n * pageW
	y0 := y0n * pageH
	x1 := x1n * pageW
	y1 := y1n * pageH

	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}

	return BoundingBox{
		X0:   round1(clamp(x0, 0, pageW)),
		Y0:   round1(clamp(y0, 0, pageH)),
		X1:   round1(clamp(x1, 0, pageW)),
		Y1:   round1(clamp(y1, 0, pageH)),
		Word: word,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
