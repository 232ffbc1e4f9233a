package tensor

import "fmt"

// sizeOf returns the element count for a shape. The empty shape (a scalar)
// has size 1.
func sizeOf(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func validShape(shape []int) error {
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("shape %v has a negative dimension", shape)
		}
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// stridesOf returns row-major strides for a shape.
func stridesOf(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// broadcastShapes aligns two shapes from the right and returns the broadcast
// result, or an error when a dimension pair is incompatible.
func broadcastShapes(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		da, db := 1, 1
		if i < len(a) {
			da = a[len(a)-1-i]
		}
		if i < len(b) {
			db = b[len(b)-1-i]
		}
		switch {
		case da == db:
			out[n-1-i] = da
		case da == 1:
			out[n-1-i] = db
		case db == 1:
			out[n-1-i] = da
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcast compatible", a, b)
		}
	}
	return out, nil
}

// broadcastIndex maps a flat index in the broadcast output back to a flat
// index in a (possibly smaller) input shape.
func broadcastIndex(flat int, outShape, inShape []int) int {
	if len(inShape) == 0 {
		return 0
	}
	outStr := stridesOf(outShape)
	inStr := stridesOf(inShape)
	off := len(outShape) - len(inShape)
	idx := 0
	for i, d := range outShape {
		coord := (flat / outStr[i]) % d
		j := i - off
		if j < 0 {
			continue
		}
		if inShape[j] == 1 {
			continue
		}
		idx += coord * inStr[j]
	}
	return idx
}

// normAxis resolves a possibly negative axis against a rank.
func normAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, fmt.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	return axis, nil
}
