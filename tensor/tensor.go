package tensor

import "fmt"

// Tensor is a dense n-dimensional array bound to the engine that created it.
// The zero value is not usable; construct through New/Zeros/Ones/Scalar or
// their Engine methods.
type Tensor struct {
	eng      *Engine
	id       int64
	shape    []int
	dtype    DType
	f32      []float32
	i32      []int32
	bools    []bool
	disposed bool
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int {
	out := make([]int, len(t.shape))
	copy(out, t.shape)
	return out
}

func (t *Tensor) DType() DType { return t.dtype }

func (t *Tensor) Rank() int { return len(t.shape) }

func (t *Tensor) Size() int { return sizeOf(t.shape) }

func (t *Tensor) Disposed() bool { return t.disposed }

// Float32s returns a copy of the buffer of a Float32 tensor in row-major
// order.
func (t *Tensor) Float32s() ([]float32, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	if t.dtype != Float32 {
		return nil, fmt.Errorf("Float32s: tensor is %s", t.dtype)
	}
	out := make([]float32, len(t.f32))
	copy(out, t.f32)
	return out, nil
}

// Int32s returns a copy of the buffer of an Int32 tensor in row-major order.
func (t *Tensor) Int32s() ([]int32, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	if t.dtype != Int32 {
		return nil, fmt.Errorf("Int32s: tensor is %s", t.dtype)
	}
	out := make([]int32, len(t.i32))
	copy(out, t.i32)
	return out, nil
}

// Bools returns a copy of the buffer of a Bool tensor in row-major order.
func (t *Tensor) Bools() ([]bool, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	if t.dtype != Bool {
		return nil, fmt.Errorf("Bools: tensor is %s", t.dtype)
	}
	out := make([]bool, len(t.bools))
	copy(out, t.bools)
	return out, nil
}

// Item returns the single value of a scalar (or one-element) tensor as a
// float64.
func (t *Tensor) Item() (float64, error) {
	if err := t.usable(); err != nil {
		return 0, err
	}
	if t.Size() != 1 {
		return 0, fmt.Errorf("Item: tensor has %d elements", t.Size())
	}
	switch t.dtype {
	case Float32:
		return float64(t.f32[0]), nil
	case Int32:
		return float64(t.i32[0]), nil
	default:
		if t.bools[0] {
			return 1, nil
		}
		return 0, nil
	}
}

// Dispose releases the tensor's buffer and removes it from engine accounting.
// Disposing twice is a no-op.
func (t *Tensor) Dispose() {
	if t == nil || t.disposed {
		return
	}
	t.eng.release(t)
}

// Clone copies the tensor into a new tracked tensor on the same engine.
func (t *Tensor) Clone() (*Tensor, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	out := t.eng.alloc(t.Shape(), t.dtype)
	copy(out.f32, t.f32)
	copy(out.i32, t.i32)
	copy(out.bools, t.bools)
	return out, nil
}

func (t *Tensor) usable() error {
	if t == nil {
		return fmt.Errorf("nil tensor")
	}
	if t.disposed {
		return fmt.Errorf("tensor %d already disposed", t.id)
	}
	return nil
}

// New builds a Float32 or Int32 tensor on the default engine from a flat
// slice; the shape's element count must match the data length.
func New(data any, shape ...int) (*Tensor, error) {
	return Default().New(data, shape...)
}

// Scalar wraps a single float32 on the default engine.
func Scalar(v float32) *Tensor {
	return Default().Scalar(v)
}

// Zeros builds a zero-filled Float32 tensor on the default engine.
func Zeros(shape ...int) (*Tensor, error) {
	return Default().Zeros(shape...)
}

// Ones builds a one-filled Float32 tensor on the default engine.
func Ones(shape ...int) (*Tensor, error) {
	return Default().Ones(shape...)
}

func (e *Engine) New(data any, shape ...int) (*Tensor, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	n := sizeOf(shape)
	switch d := data.(type) {
	case []float32:
		if len(d) != n {
			return nil, fmt.Errorf("data length %d does not match shape %v", len(d), shape)
		}
		t := e.alloc(shape, Float32)
		copy(t.f32, d)
		return t, nil
	case []int32:
		if len(d) != n {
			return nil, fmt.Errorf("data length %d does not match shape %v", len(d), shape)
		}
		t := e.alloc(shape, Int32)
		copy(t.i32, d)
		return t, nil
	case []bool:
		if len(d) != n {
			return nil, fmt.Errorf("data length %d does not match shape %v", len(d), shape)
		}
		t := e.alloc(shape, Bool)
		copy(t.bools, d)
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported data type %T", data)
	}
}

func (e *Engine) Scalar(v float32) *Tensor {
	t := e.alloc(nil, Float32)
	t.f32[0] = v
	return t
}

func (e *Engine) Zeros(shape ...int) (*Tensor, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	return e.alloc(shape, Float32), nil
}

func (e *Engine) Ones(shape ...int) (*Tensor, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	t := e.alloc(shape, Float32)
	for i := range t.f32 {
		t.f32[i] = 1
	}
	return t, nil
}
