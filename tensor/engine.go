package tensor

import (
	"fmt"
	"sync"
)

// KernelFunc is one backend implementation of a named operation. Inputs are
// already validated by the op wrappers; kernels allocate their outputs through
// the engine so scope accounting sees them.
type KernelFunc func(e *Engine, inputs []*Tensor, attrs map[string]any) (*Tensor, error)

// Engine owns tensor buffers and routes op names to kernels. Not safe for
// concurrent use.
type Engine struct {
	kernels map[string]KernelFunc
	live    map[int64]*Tensor
	scopes  []map[int64]*Tensor
	nextID  int64
}

// NewEngine returns an engine with the CPU kernel set registered.
func NewEngine() *Engine {
	e := &Engine{
		kernels: make(map[string]KernelFunc),
		live:    make(map[int64]*Tensor),
	}
	registerCPUKernels(e)
	return e
}

var (
	defaultEngine *Engine
	defaultOnce   sync.Once
)

// Default returns the process-wide engine singleton.
func Default() *Engine {
	defaultOnce.Do(func() {
		defaultEngine = NewEngine()
	})
	return defaultEngine
}

// RegisterKernel installs (or replaces) the implementation for a kernel name.
func (e *Engine) RegisterKernel(name string, k KernelFunc) {
	e.kernels[name] = k
}

// HasKernel reports whether a kernel name is registered.
func (e *Engine) HasKernel(name string) bool {
	_, ok := e.kernels[name]
	return ok
}

// RunKernel dispatches a named operation. Unregistered names error; kernels
// never see disposed inputs.
func (e *Engine) RunKernel(name string, inputs []*Tensor, attrs map[string]any) (*Tensor, error) {
	k, ok := e.kernels[name]
	if !ok {
		return nil, fmt.Errorf("no kernel registered for %q", name)
	}
	for i, in := range inputs {
		if err := in.usable(); err != nil {
			return nil, fmt.Errorf("%s input %d: %w", name, i, err)
		}
		if in.eng != e {
			return nil, fmt.Errorf("%s input %d belongs to a different engine", name, i)
		}
	}
	return k(e, inputs, attrs)
}

// NumTensors returns the number of live (undisposed) tensors.
func (e *Engine) NumTensors() int {
	return len(e.live)
}

// StartScope opens a scope; tensors allocated until the matching EndScope are
// released when it closes unless kept.
func (e *Engine) StartScope() {
	e.scopes = append(e.scopes, make(map[int64]*Tensor))
}

// EndScope closes the innermost scope, disposing everything allocated in it
// except the keep tensors, which transfer to the enclosing scope.
func (e *Engine) EndScope(keep ...*Tensor) {
	if len(e.scopes) == 0 {
		return
	}
	top := e.scopes[len(e.scopes)-1]
	e.scopes = e.scopes[:len(e.scopes)-1]
	kept := make(map[int64]bool, len(keep))
	for _, t := range keep {
		if t != nil {
			kept[t.id] = true
			if len(e.scopes) > 0 {
				e.scopes[len(e.scopes)-1][t.id] = t
			}
		}
	}
	for id, t := range top {
		if !kept[id] {
			e.release(t)
		}
	}
}

// Tidy runs fn inside a scope and disposes every tensor allocated within it
// except the returned one.
func (e *Engine) Tidy(fn func() (*Tensor, error)) (*Tensor, error) {
	e.StartScope()
	out, err := fn()
	e.EndScope(out)
	return out, err
}

// Tidy runs fn in a scope on the default engine.
func Tidy(fn func() (*Tensor, error)) (*Tensor, error) {
	return Default().Tidy(fn)
}

// alloc creates a tracked tensor with a zeroed buffer.
func (e *Engine) alloc(shape []int, dtype DType) *Tensor {
	e.nextID++
	t := &Tensor{
		eng:   e,
		id:    e.nextID,
		shape: append([]int(nil), shape...),
		dtype: dtype,
	}
	n := sizeOf(shape)
	switch dtype {
	case Float32:
		t.f32 = make([]float32, n)
	case Int32:
		t.i32 = make([]int32, n)
	case Bool:
		t.bools = make([]bool, n)
	}
	e.live[t.id] = t
	if len(e.scopes) > 0 {
		e.scopes[len(e.scopes)-1][t.id] = t
	}
	return t
}

func (e *Engine) release(t *Tensor) {
	if t.disposed {
		return
	}
	t.disposed = true
	t.f32 = nil
	t.i32 = nil
	t.bools = nil
	delete(e.live, t.id)
	for _, sc := range e.scopes {
		delete(sc, t.id)
	}
}
