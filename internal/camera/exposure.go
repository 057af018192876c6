package camera

import "math"

// AdjustExposureMs implements the adaptive exposure rule of spec.md
// §4.7: new = round(old * target / mean_center), clamped to
// [min, max]. A non-finite or non-positive mean_center leaves the
// exposure unchanged (spec.md §9: "no damping"; only the degenerate
// input is guarded, not the oscillation itself).
func AdjustExposureMs(oldExpMs int, meanCenter, targetADU float64, minMs, maxMs int) int {
	if !isFinitePositive(meanCenter) {
		return clampInt(oldExpMs, minMs, maxMs)
	}
	next := int(math.Round(float64(oldExpMs) * targetADU / meanCenter))
	return clampInt(next, minMs, maxMs)
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CentralPatchMean computes the mean pixel value of a square patch of
// side patchPx centred on the sensor (spec.md §4.7: "256x256 about the
// sensor centre, extending to 512x512"; patchPx selects which).
func CentralPatchMean(pixels []uint16, w, h, patchPx int) float64 {
	if w <= 0 || h <= 0 || len(pixels) < w*h {
		return 0
	}
	half := patchPx / 2
	cx, cy := w/2, h/2
	x0, x1 := clampInt(cx-half, 0, w), clampInt(cx+half, 0, w)
	y0, y1 := clampInt(cy-half, 0, h), clampInt(cy+half, 0, h)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}

	var sum float64
	var n int
	for y := y0; y < y1; y++ {
		row := y * w
		for x := x0; x < x1; x++ {
			sum += float64(pixels[row+x])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
