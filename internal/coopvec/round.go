package coopvec

import "math"

// RoundHalfEven rounds x to the nearest integer, breaking exact halves
// toward the even neighbour. Other values round half away from zero in
// binary32, matching how scaled layer results are narrowed.
func RoundHalfEven(x float32) int64 {
	fl := float32(math.Floor(float64(x)))
	half := x-fl == 0.5
	tr := int64(x)
	if x >= 0 {
		if half {
			if tr&1 != 0 {
				return tr + 1
			}
			return tr
		}
		return int64(int32(x + 0.5))
	}
	if half {
		if tr&1 != 0 {
			return tr - 1
		}
		return tr
	}
	return int64(int32(x - 0.5))
}
