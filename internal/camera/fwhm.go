package camera

import (
	"math"

	"github.com/salmingo/wemon-public/internal/models"
)

// CentralGate reports whether a star at (x, y) falls within +-30% of
// the frame width/height around the frame centre (spec.md §3), the
// gate FWHM statistics are drawn from. The tolerance is fixed at
// 0.3*W/0.3*H, not 0.3 of the half-width, matching stat_fwhm()'s
// wHalf/hHalf in original_source/src/InvokeSExtractor.cpp.
func CentralGate(x, y float64, w, h int) bool {
	cx, cy := float64(w)/2, float64(h)/2
	return math.Abs(x-cx) <= 0.3*float64(w) && math.Abs(y-cy) <= 0.3*float64(h)
}

// FrameFWHM runs the admissibility filter, the central-region gate, and
// an iterative 2-sigma-clipped mean over the surviving stars' FWHM
// values, per spec.md §3. minStars is the §4.7 "fewer than 50
// admissible stars" floor: below it the result is invalid and the
// caller must not advance the autofocus window.
func FrameFWHM(stars []models.Star, w, h, minStars int) models.FWHMStat {
	var admissible []models.Star
	for _, s := range stars {
		if s.Admissible() && CentralGate(s.X, s.Y, w, h) {
			admissible = append(admissible, s)
		}
	}
	if len(admissible) < minStars {
		return models.FWHMStat{}
	}

	values := make([]float64, len(admissible))
	for i, s := range admissible {
		values[i] = s.FWHM
	}

	mean, sigma, n := clippedMean(values)
	valid := n >= minStars && mean > 1.0 && sigma > 0 && mean/sigma >= 3
	return models.FWHMStat{Valid: valid, Mean: mean, Sigma: sigma, NStars: n}
}

// clippedMean iterates mean/stddev computation, dropping points beyond
// 2 sigma each pass, until no more points are dropped or fewer than 3
// remain.
func clippedMean(values []float64) (mean, sigma float64, n int) {
	current := append([]float64(nil), values...)
	for {
		mean, sigma = meanStd(current)
		if sigma <= 0 || len(current) < 3 {
			break
		}
		kept := current[:0:0]
		for _, v := range current {
			if math.Abs(v-mean) <= 2*sigma {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(current) || len(kept) < 3 {
			current = kept
			break
		}
		current = kept
	}
	mean, sigma = meanStd(current)
	return mean, sigma, len(current)
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}
	if len(values) > 1 {
		std = math.Sqrt(sqDiff / float64(len(values)-1))
	}
	return mean, std
}
