package tensor

import "fmt"

func reduceOp(name string, x *Tensor, axis int, floatOnly bool) (*Tensor, error) {
	if err := x.usable(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if x.dtype == Bool {
		return nil, fmt.Errorf("%s: not defined for bool tensors", name)
	}
	if floatOnly && x.dtype != Float32 {
		return nil, fmt.Errorf("%s: requires float32, got %s", name, x.dtype)
	}
	if x.Rank() == 0 {
		return nil, fmt.Errorf("%s: cannot reduce a scalar", name)
	}
	ax, err := normAxis(axis, x.Rank())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return x.eng.RunKernel(name, []*Tensor{x}, map[string]any{"axis": ax})
}

// Sum reduces one axis by addition. The axis may be negative, counting from
// the end.
func Sum(x *Tensor, axis int) (*Tensor, error) { return reduceOp("Sum", x, axis, false) }

// Max reduces one axis by maximum.
func Max(x *Tensor, axis int) (*Tensor, error) { return reduceOp("Max", x, axis, false) }

// Mean reduces one axis by arithmetic mean.
func Mean(x *Tensor, axis int) (*Tensor, error) { return reduceOp("Mean", x, axis, true) }

// ArgMax returns the Int32 index of the largest element along one axis; ties
// resolve to the first occurrence.
func ArgMax(x *Tensor, axis int) (*Tensor, error) { return reduceOp("ArgMax", x, axis, false) }
