package tensor

import (
	"image"
	"image/color"
	"strings"
	"testing"
)

func mustNew(t *testing.T, e *Engine, data any, shape ...int) *Tensor {
	t.Helper()
	out, err := e.New(data, shape...)
	if err != nil {
		t.Fatalf("New(%v): %v", shape, err)
	}
	return out
}

func wantFloats(t *testing.T, tr *Tensor, want []float32) {
	t.Helper()
	got, err := tr.Float32s()
	if err != nil {
		t.Fatalf("Float32s: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-5 || diff < -1e-5 {
			t.Fatalf("value %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNewValidation(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		name  string
		data  any
		shape []int
		want  string
	}{
		{"length mismatch", []float32{1, 2, 3}, []int{2, 2}, "does not match shape"},
		{"negative dim", []float32{1, 2}, []int{-2}, "negative dimension"},
		{"unsupported type", []float64{1, 2}, []int{2}, "unsupported data type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.New(tt.data, tt.shape...)
			if err == nil {
				t.Fatalf("New(%v, %v): expected error", tt.data, tt.shape)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestScalarAndItem(t *testing.T) {
	e := NewEngine()
	s := e.Scalar(4.5)
	if s.Rank() != 0 || s.Size() != 1 {
		t.Fatalf("scalar rank %d size %d", s.Rank(), s.Size())
	}
	v, err := s.Item()
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if v != 4.5 {
		t.Errorf("Item = %v, want 4.5", v)
	}
	m := mustNew(t, e, []float32{1, 2}, 2)
	if _, err := m.Item(); err == nil {
		t.Error("Item on a 2-element tensor should fail")
	}
}

func TestDisposeAccounting(t *testing.T) {
	e := NewEngine()
	a := mustNew(t, e, []float32{1, 2, 3}, 3)
	b := mustNew(t, e, []float32{4, 5, 6}, 3)
	if n := e.NumTensors(); n != 2 {
		t.Fatalf("NumTensors = %d, want 2", n)
	}
	a.Dispose()
	a.Dispose() // second call is a no-op
	if n := e.NumTensors(); n != 1 {
		t.Fatalf("NumTensors after dispose = %d, want 1", n)
	}
	if _, err := Add(a, b); err == nil {
		t.Error("Add with a disposed input should fail")
	}
	if _, err := a.Float32s(); err == nil {
		t.Error("Float32s on a disposed tensor should fail")
	}
}

func TestTidyReleasesIntermediates(t *testing.T) {
	e := NewEngine()
	x := mustNew(t, e, []float32{1, -2, 3, -4}, 4)
	out, err := e.Tidy(func() (*Tensor, error) {
		n, err := Neg(x)
		if err != nil {
			return nil, err
		}
		a, err := Abs(n)
		if err != nil {
			return nil, err
		}
		return Relu(a)
	})
	if err != nil {
		t.Fatalf("Tidy: %v", err)
	}
	// x and the kept result survive; the two intermediates are gone.
	if n := e.NumTensors(); n != 2 {
		t.Errorf("NumTensors after Tidy = %d, want 2", n)
	}
	wantFloats(t, out, []float32{1, 2, 3, 4})
}

func TestEndScopeKeepTransfers(t *testing.T) {
	e := NewEngine()
	e.StartScope()
	e.StartScope()
	kept := e.Scalar(1)
	dropped := e.Scalar(2)
	e.EndScope(kept)
	if dropped.Disposed() != true {
		t.Error("unkept tensor should be disposed by EndScope")
	}
	if kept.Disposed() {
		t.Fatal("kept tensor disposed too early")
	}
	// kept now belongs to the outer scope and dies with it.
	e.EndScope()
	if !kept.Disposed() {
		t.Error("kept tensor should die with the enclosing scope")
	}
}

func TestRunKernelUnregistered(t *testing.T) {
	e := NewEngine()
	x := e.Scalar(1)
	_, err := e.RunKernel("NoSuchOp", []*Tensor{x}, nil)
	if err == nil || !strings.Contains(err.Error(), "no kernel registered") {
		t.Fatalf("RunKernel error = %v, want unregistered-kernel error", err)
	}
}

func TestRegisterKernelOverride(t *testing.T) {
	e := NewEngine()
	e.RegisterKernel("Neg", func(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
		out := e.alloc(in[0].Shape(), Float32)
		for i, v := range in[0].f32 {
			out.f32[i] = v * -10
		}
		return out, nil
	})
	x := mustNew(t, e, []float32{1, 2}, 2)
	out, err := Neg(x)
	if err != nil {
		t.Fatalf("Neg: %v", err)
	}
	wantFloats(t, out, []float32{-10, -20})
}

func TestCrossEngineRejected(t *testing.T) {
	a := NewEngine().Scalar(1)
	b := NewEngine().Scalar(2)
	if _, err := Add(a, b); err == nil {
		t.Fatal("Add across engines should fail")
	}
}

func TestClone(t *testing.T) {
	e := NewEngine()
	a := mustNew(t, e, []int32{7, 8}, 2)
	c, err := a.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	a.Dispose()
	got, err := c.Int32s()
	if err != nil {
		t.Fatalf("Int32s: %v", err)
	}
	if got[0] != 7 || got[1] != 8 {
		t.Errorf("clone = %v, want [7 8]", got)
	}
}

func TestFromImageGray(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	img.Set(1, 0, color.RGBA{R: 255, A: 255})
	e := NewEngine()
	tr, err := e.FromImageGray(img)
	if err != nil {
		t.Fatalf("FromImageGray: %v", err)
	}
	if s := tr.Shape(); len(s) != 3 || s[0] != 1 || s[1] != 2 || s[2] != 1 {
		t.Fatalf("shape = %v, want [1 2 1]", s)
	}
	got, _ := tr.Float32s()
	if got[0] < 254 || got[0] > 256 {
		t.Errorf("white luma = %v, want ~255", got[0])
	}
	if got[1] < 75 || got[1] > 78 {
		t.Errorf("red luma = %v, want ~76", got[1])
	}
	if _, err := e.FromImageGray(image.NewRGBA(image.Rect(0, 0, 0, 0))); err == nil {
		t.Error("empty image should fail")
	}
}
