package tensor

import "fmt"

// MatMul multiplies two rank-2 float32 tensors: [m,k] x [k,n] -> [m,n].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if err := a.usable(); err != nil {
		return nil, fmt.Errorf("MatMul: %w", err)
	}
	if err := b.usable(); err != nil {
		return nil, fmt.Errorf("MatMul: %w", err)
	}
	if a.eng != b.eng {
		return nil, fmt.Errorf("MatMul: inputs belong to different engines")
	}
	if a.dtype != Float32 || b.dtype != Float32 {
		return nil, fmt.Errorf("MatMul: requires float32 inputs, got %s and %s", a.dtype, b.dtype)
	}
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("MatMul: inputs must be rank 2, got rank %d and rank %d", a.Rank(), b.Rank())
	}
	if a.shape[1] != b.shape[0] {
		return nil, fmt.Errorf("MatMul: inner dimensions must agree, got %v x %v", a.shape, b.shape)
	}
	return a.eng.RunKernel("MatMul", []*Tensor{a, b}, nil)
}

func checkPadding(name, padding string) error {
	if padding != "same" && padding != "valid" {
		return fmt.Errorf("%s: padding must be \"same\" or \"valid\", got %q", name, padding)
	}
	return nil
}

// Conv2D runs a 2-D convolution over an NHWC input with an
// [h, w, inChannels, outChannels] filter.
func Conv2D(input, filter *Tensor, stride int, padding string) (*Tensor, error) {
	if err := input.usable(); err != nil {
		return nil, fmt.Errorf("Conv2D: %w", err)
	}
	if err := filter.usable(); err != nil {
		return nil, fmt.Errorf("Conv2D: %w", err)
	}
	if input.eng != filter.eng {
		return nil, fmt.Errorf("Conv2D: inputs belong to different engines")
	}
	if input.dtype != Float32 || filter.dtype != Float32 {
		return nil, fmt.Errorf("Conv2D: requires float32 inputs, got %s and %s", input.dtype, filter.dtype)
	}
	if input.Rank() != 4 {
		return nil, fmt.Errorf("Conv2D: input must be rank 4 (NHWC), got rank %d", input.Rank())
	}
	if filter.Rank() != 4 {
		return nil, fmt.Errorf("Conv2D: filter must be rank 4 (h,w,in,out), got rank %d", filter.Rank())
	}
	if input.shape[3] != filter.shape[2] {
		return nil, fmt.Errorf("Conv2D: input channels %d do not match filter channels %d", input.shape[3], filter.shape[2])
	}
	if stride < 1 {
		return nil, fmt.Errorf("Conv2D: stride must be >= 1, got %d", stride)
	}
	if err := checkPadding("Conv2D", padding); err != nil {
		return nil, err
	}
	if padding == "valid" && (filter.shape[0] > input.shape[1] || filter.shape[1] > input.shape[2]) {
		return nil, fmt.Errorf("Conv2D: filter %v larger than input %v with valid padding", filter.shape[:2], input.shape[1:3])
	}
	return input.eng.RunKernel("Conv2D", []*Tensor{input, filter}, map[string]any{
		"stride": stride, "padding": padding,
	})
}

// MaxPool2D pools an NHWC float32 input with a square window.
func MaxPool2D(input *Tensor, pool, stride int, padding string) (*Tensor, error) {
	if err := input.usable(); err != nil {
		return nil, fmt.Errorf("MaxPool2D: %w", err)
	}
	if input.dtype != Float32 {
		return nil, fmt.Errorf("MaxPool2D: requires float32 input, got %s", input.dtype)
	}
	if input.Rank() != 4 {
		return nil, fmt.Errorf("MaxPool2D: input must be rank 4 (NHWC), got rank %d", input.Rank())
	}
	if pool < 1 || stride < 1 {
		return nil, fmt.Errorf("MaxPool2D: pool and stride must be >= 1, got %d and %d", pool, stride)
	}
	if err := checkPadding("MaxPool2D", padding); err != nil {
		return nil, err
	}
	if padding == "valid" && (pool > input.shape[1] || pool > input.shape[2]) {
		return nil, fmt.Errorf("MaxPool2D: window %d larger than input %v with valid padding", pool, input.shape[1:3])
	}
	return input.eng.RunKernel("MaxPool2D", []*Tensor{input}, map[string]any{
		"pool": pool, "stride": stride, "padding": padding,
	})
}
