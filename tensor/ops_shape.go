package tensor

import (
	"fmt"
	"math"
)

// Reshape returns a tensor with the same data and a new shape. One dimension
// may be -1 and is inferred from the element count.
func Reshape(x *Tensor, shape ...int) (*Tensor, error) {
	if err := x.usable(); err != nil {
		return nil, fmt.Errorf("Reshape: %w", err)
	}
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1:
			if infer != -1 {
				return nil, fmt.Errorf("Reshape: shape %v has more than one -1", shape)
			}
			infer = i
		case d < 0:
			return nil, fmt.Errorf("Reshape: shape %v has a negative dimension", shape)
		default:
			known *= d
		}
	}
	resolved := append([]int(nil), shape...)
	if infer >= 0 {
		if known == 0 || x.Size()%known != 0 {
			return nil, fmt.Errorf("Reshape: cannot infer dimension for %d elements into %v", x.Size(), shape)
		}
		resolved[infer] = x.Size() / known
	} else if known != x.Size() {
		return nil, fmt.Errorf("Reshape: %d elements do not fit shape %v", x.Size(), shape)
	}
	return x.eng.RunKernel("Reshape", []*Tensor{x}, map[string]any{"shape": resolved})
}

// Transpose permutes the axes of x. An empty perm reverses them.
func Transpose(x *Tensor, perm ...int) (*Tensor, error) {
	if err := x.usable(); err != nil {
		return nil, fmt.Errorf("Transpose: %w", err)
	}
	r := x.Rank()
	if len(perm) == 0 {
		perm = make([]int, r)
		for i := range perm {
			perm[i] = r - 1 - i
		}
	}
	if len(perm) != r {
		return nil, fmt.Errorf("Transpose: perm %v does not match rank %d", perm, r)
	}
	seen := make([]bool, r)
	for _, p := range perm {
		if p < 0 || p >= r || seen[p] {
			return nil, fmt.Errorf("Transpose: perm %v is not a permutation of rank %d", perm, r)
		}
		seen[p] = true
	}
	return x.eng.RunKernel("Transpose", []*Tensor{x}, map[string]any{"perm": perm})
}

// Slice extracts a contiguous block: begin gives the start per axis, size the
// extent; a size of -1 runs to the end of that axis.
func Slice(x *Tensor, begin, size []int) (*Tensor, error) {
	if err := x.usable(); err != nil {
		return nil, fmt.Errorf("Slice: %w", err)
	}
	r := x.Rank()
	if len(begin) != r || len(size) != r {
		return nil, fmt.Errorf("Slice: begin/size must have %d entries, got %d/%d", r, len(begin), len(size))
	}
	resolved := make([]int, r)
	for i := 0; i < r; i++ {
		if begin[i] < 0 || begin[i] > x.shape[i] {
			return nil, fmt.Errorf("Slice: begin[%d]=%d out of range for dim %d", i, begin[i], x.shape[i])
		}
		sz := size[i]
		if sz == -1 {
			sz = x.shape[i] - begin[i]
		}
		if sz < 0 || begin[i]+sz > x.shape[i] {
			return nil, fmt.Errorf("Slice: size[%d]=%d out of range for dim %d at begin %d", i, size[i], x.shape[i], begin[i])
		}
		resolved[i] = sz
	}
	return x.eng.RunKernel("Slice", []*Tensor{x}, map[string]any{"begin": begin, "size": resolved})
}

// Concat joins tensors along one axis. All inputs must share dtype, rank and
// every dimension except the concat axis.
func Concat(ts []*Tensor, axis int) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("Concat: needs at least one tensor")
	}
	first := ts[0]
	if err := first.usable(); err != nil {
		return nil, fmt.Errorf("Concat: %w", err)
	}
	ax, err := normAxis(axis, first.Rank())
	if err != nil {
		return nil, fmt.Errorf("Concat: %w", err)
	}
	for i, t := range ts[1:] {
		if err := t.usable(); err != nil {
			return nil, fmt.Errorf("Concat input %d: %w", i+1, err)
		}
		if t.eng != first.eng {
			return nil, fmt.Errorf("Concat: inputs belong to different engines")
		}
		if t.dtype != first.dtype {
			return nil, fmt.Errorf("Concat: dtype mismatch %s vs %s", first.dtype, t.dtype)
		}
		if t.Rank() != first.Rank() {
			return nil, fmt.Errorf("Concat: rank mismatch %d vs %d", first.Rank(), t.Rank())
		}
		for d := 0; d < first.Rank(); d++ {
			if d != ax && t.shape[d] != first.shape[d] {
				return nil, fmt.Errorf("Concat: shapes %v and %v differ outside axis %d", first.shape, t.shape, ax)
			}
		}
	}
	return first.eng.RunKernel("Concat", ts, map[string]any{"axis": ax})
}

// Gather selects slices of x along an axis by Int32 indices, mirroring the
// shape rules of the usual gather operation: the axis dimension is replaced
// by the indices' shape.
func Gather(x, indices *Tensor, axis int) (*Tensor, error) {
	if err := x.usable(); err != nil {
		return nil, fmt.Errorf("Gather: %w", err)
	}
	if err := indices.usable(); err != nil {
		return nil, fmt.Errorf("Gather: %w", err)
	}
	if x.eng != indices.eng {
		return nil, fmt.Errorf("Gather: inputs belong to different engines")
	}
	if indices.dtype != Int32 {
		return nil, fmt.Errorf("Gather: indices must be int32, got %s", indices.dtype)
	}
	if x.Rank() == 0 {
		return nil, fmt.Errorf("Gather: cannot gather from a scalar")
	}
	ax, err := normAxis(axis, x.Rank())
	if err != nil {
		return nil, fmt.Errorf("Gather: %w", err)
	}
	return x.eng.RunKernel("Gather", []*Tensor{x, indices}, map[string]any{"axis": ax})
}

// Range builds a 1-D tensor of evenly spaced values in [start, stop) on the
// default engine.
func Range(start, stop, step float64, dtype DType) (*Tensor, error) {
	return Default().Range(start, stop, step, dtype)
}

func (e *Engine) Range(start, stop, step float64, dtype DType) (*Tensor, error) {
	if step == 0 {
		return nil, fmt.Errorf("Range: step cannot be 0")
	}
	if dtype != Float32 && dtype != Int32 {
		return nil, fmt.Errorf("Range: dtype must be float32 or int32, got %s", dtype)
	}
	if math.Signbit(step) != math.Signbit(stop-start) && stop != start {
		// wrong direction yields an empty tensor rather than an error
		return e.RunKernel("Range", nil, map[string]any{
			"start": start, "stop": start, "step": step, "dtype": dtype,
		})
	}
	return e.RunKernel("Range", nil, map[string]any{
		"start": start, "stop": stop, "step": step, "dtype": dtype,
	})
}
