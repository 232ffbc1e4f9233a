package tensor

import "fmt"

func binaryOp(name string, a, b *Tensor) (*Tensor, error) {
	if err := a.usable(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := b.usable(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if a.eng != b.eng {
		return nil, fmt.Errorf("%s: inputs belong to different engines", name)
	}
	if a.dtype != b.dtype {
		return nil, fmt.Errorf("%s: dtype mismatch %s vs %s", name, a.dtype, b.dtype)
	}
	if a.dtype == Bool {
		return nil, fmt.Errorf("%s: not defined for bool tensors", name)
	}
	if _, err := broadcastShapes(a.shape, b.shape); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return a.eng.RunKernel(name, []*Tensor{a, b}, nil)
}

func unaryOp(name string, x *Tensor, floatOnly bool) (*Tensor, error) {
	if err := x.usable(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if x.dtype == Bool {
		return nil, fmt.Errorf("%s: not defined for bool tensors", name)
	}
	if floatOnly && x.dtype != Float32 {
		return nil, fmt.Errorf("%s: requires float32, got %s", name, x.dtype)
	}
	return x.eng.RunKernel(name, []*Tensor{x}, nil)
}

// Add returns a+b with right-aligned broadcasting.
func Add(a, b *Tensor) (*Tensor, error) { return binaryOp("Add", a, b) }

// Sub returns a-b with right-aligned broadcasting.
func Sub(a, b *Tensor) (*Tensor, error) { return binaryOp("Sub", a, b) }

// Mul returns the elementwise product with right-aligned broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) { return binaryOp("Mul", a, b) }

// Div returns a/b with right-aligned broadcasting. Integer division
// truncates; float division by zero follows IEEE semantics.
func Div(a, b *Tensor) (*Tensor, error) { return binaryOp("Div", a, b) }

func Neg(x *Tensor) (*Tensor, error) { return unaryOp("Neg", x, false) }

func Abs(x *Tensor) (*Tensor, error) { return unaryOp("Abs", x, false) }

// Sqrt returns the elementwise square root of a float32 tensor.
func Sqrt(x *Tensor) (*Tensor, error) { return unaryOp("Sqrt", x, true) }

// Relu returns max(x, 0) elementwise.
func Relu(x *Tensor) (*Tensor, error) { return unaryOp("Relu", x, true) }

// Sigmoid returns 1/(1+exp(-x)) elementwise.
func Sigmoid(x *Tensor) (*Tensor, error) { return unaryOp("Sigmoid", x, true) }

// Softmax normalizes the last axis of a float32 tensor into a probability
// distribution.
func Softmax(x *Tensor) (*Tensor, error) {
	if err := x.usable(); err != nil {
		return nil, fmt.Errorf("Softmax: %w", err)
	}
	if x.dtype != Float32 {
		return nil, fmt.Errorf("Softmax: requires float32, got %s", x.dtype)
	}
	if x.Rank() < 1 {
		return nil, fmt.Errorf("Softmax: requires rank >= 1, got a scalar")
	}
	return x.eng.RunKernel("Softmax", []*Tensor{x}, nil)
}
