package tensor

// AddVec adds src to dst element-wise.
func AddVec(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// MulVec multiplies dst by src element-wise.
func MulVec(dst, src []float32) {
	for i := range dst {
		dst[i] *= src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// ReLU clamps negative values in x to zero in place.
func ReLU(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// AbsMaxVec returns max(|x|).
func AbsMaxVec(x []float32) float32 {
	return absMax(x)
}
