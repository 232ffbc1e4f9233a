package tensor

import (
	"math"
	"testing"
)

func TestAddBroadcast(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		name   string
		a, b   *Tensor
		want   []float32
		wantSh []int
	}{
		{
			"same shape",
			mustNew(t, e, []float32{1, 2, 3, 4}, 2, 2),
			mustNew(t, e, []float32{10, 20, 30, 40}, 2, 2),
			[]float32{11, 22, 33, 44},
			[]int{2, 2},
		},
		{
			"row vector",
			mustNew(t, e, []float32{1, 2, 3, 4, 5, 6}, 2, 3),
			mustNew(t, e, []float32{10, 20, 30}, 3),
			[]float32{11, 22, 33, 14, 25, 36},
			[]int{2, 3},
		},
		{
			"scalar",
			mustNew(t, e, []float32{1, 2}, 2),
			e.Scalar(5),
			[]float32{6, 7},
			[]int{2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Add(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Add: %v", err)
			}
			if !sameShape(out.Shape(), tt.wantSh) {
				t.Fatalf("shape = %v, want %v", out.Shape(), tt.wantSh)
			}
			wantFloats(t, out, tt.want)
		})
	}

	a := mustNew(t, e, []float32{1, 2, 3}, 3)
	b := mustNew(t, e, []float32{1, 2}, 2)
	if _, err := Add(a, b); err == nil {
		t.Error("incompatible shapes should fail")
	}
	bi := mustNew(t, e, []int32{1}, 1)
	if _, err := Add(a, bi); err == nil {
		t.Error("mixed dtypes should fail")
	}
}

func TestUnaryOps(t *testing.T) {
	e := NewEngine()
	x := mustNew(t, e, []float32{-1, 0, 4}, 3)
	tests := []struct {
		name string
		op   func(*Tensor) (*Tensor, error)
		want []float32
	}{
		{"Neg", Neg, []float32{1, 0, -4}},
		{"Abs", Abs, []float32{1, 0, 4}},
		{"Relu", Relu, []float32{0, 0, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.op(x)
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			wantFloats(t, out, tt.want)
		})
	}

	sq, err := Sqrt(mustNew(t, e, []float32{4, 9}, 2))
	if err != nil {
		t.Fatalf("Sqrt: %v", err)
	}
	wantFloats(t, sq, []float32{2, 3})

	ints := mustNew(t, e, []int32{1, 2}, 2)
	if _, err := Sqrt(ints); err == nil {
		t.Error("Sqrt on int32 should fail")
	}
	bools := mustNew(t, e, []bool{true}, 1)
	if _, err := Neg(bools); err == nil {
		t.Error("Neg on bool should fail")
	}
}

func TestSoftmax(t *testing.T) {
	e := NewEngine()
	x := mustNew(t, e, []float32{1, 2, 3, 1, 1, 1}, 2, 3)
	out, err := Softmax(x)
	if err != nil {
		t.Fatalf("Softmax: %v", err)
	}
	got, _ := out.Float32s()
	for r := 0; r < 2; r++ {
		var sum float32
		for c := 0; c < 3; c++ {
			sum += got[r*3+c]
		}
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Errorf("row %d sums to %v, want 1", r, sum)
		}
	}
	if !(got[2] > got[1] && got[1] > got[0]) {
		t.Errorf("softmax should preserve order, got %v", got[:3])
	}
	for c := 3; c < 6; c++ {
		if math.Abs(float64(got[c]-1.0/3.0)) > 1e-5 {
			t.Errorf("uniform row value %v, want 1/3", got[c])
		}
	}
}

func TestReductions(t *testing.T) {
	e := NewEngine()
	x := mustNew(t, e, []float32{1, 5, 2, 8, 3, 4}, 2, 3)

	sum, err := Sum(x, 1)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if !sameShape(sum.Shape(), []int{2}) {
		t.Fatalf("Sum shape = %v, want [2]", sum.Shape())
	}
	wantFloats(t, sum, []float32{8, 15})

	mx, err := Max(x, 0)
	if err != nil {
		t.Fatalf("Max: %v", err)
	}
	wantFloats(t, mx, []float32{8, 5, 4})

	mean, err := Mean(x, -1)
	if err != nil {
		t.Fatalf("Mean: %v", err)
	}
	wantFloats(t, mean, []float32{8.0 / 3.0, 5})

	am, err := ArgMax(x, 1)
	if err != nil {
		t.Fatalf("ArgMax: %v", err)
	}
	idx, err := am.Int32s()
	if err != nil {
		t.Fatalf("ArgMax dtype: %v", err)
	}
	if idx[0] != 1 || idx[1] != 0 {
		t.Errorf("ArgMax = %v, want [1 0]", idx)
	}

	if _, err := Sum(x, 2); err == nil {
		t.Error("axis out of range should fail")
	}
	if _, err := Mean(mustNew(t, e, []int32{1, 2}, 2), 0); err == nil {
		t.Error("Mean on int32 should fail")
	}
}

func TestReshape(t *testing.T) {
	e := NewEngine()
	x := mustNew(t, e, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	tests := []struct {
		name  string
		shape []int
		want  []int
		ok    bool
	}{
		{"explicit", []int{3, 2}, []int{3, 2}, true},
		{"infer tail", []int{6, -1}, []int{6, 1}, true},
		{"infer middle", []int{1, -1, 2}, []int{1, 3, 2}, true},
		{"flatten", []int{-1}, []int{6}, true},
		{"wrong count", []int{4, 2}, nil, false},
		{"two inferred", []int{-1, -1}, nil, false},
		{"non-divisible", []int{4, -1}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Reshape(x, tt.shape...)
			if tt.ok != (err == nil) {
				t.Fatalf("Reshape(%v) error = %v, ok = %v", tt.shape, err, tt.ok)
			}
			if err == nil && !sameShape(out.Shape(), tt.want) {
				t.Errorf("shape = %v, want %v", out.Shape(), tt.want)
			}
		})
	}
}

func TestTranspose(t *testing.T) {
	e := NewEngine()
	x := mustNew(t, e, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	out, err := Transpose(x)
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	if !sameShape(out.Shape(), []int{3, 2}) {
		t.Fatalf("shape = %v, want [3 2]", out.Shape())
	}
	wantFloats(t, out, []float32{1, 4, 2, 5, 3, 6})

	if _, err := Transpose(x, 0, 0); err == nil {
		t.Error("repeated perm entry should fail")
	}
	if _, err := Transpose(x, 0, 2); err == nil {
		t.Error("out-of-range perm entry should fail")
	}
}

func TestSliceAndConcat(t *testing.T) {
	e := NewEngine()
	x := mustNew(t, e, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	s, err := Slice(x, []int{0, 1}, []int{2, -1})
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if !sameShape(s.Shape(), []int{2, 2}) {
		t.Fatalf("shape = %v, want [2 2]", s.Shape())
	}
	wantFloats(t, s, []float32{2, 3, 5, 6})

	if _, err := Slice(x, []int{0, 2}, []int{1, 2}); err == nil {
		t.Error("slice past the end should fail")
	}

	c, err := Concat([]*Tensor{x, x}, 0)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if !sameShape(c.Shape(), []int{4, 3}) {
		t.Fatalf("shape = %v, want [4 3]", c.Shape())
	}

	y := mustNew(t, e, []float32{1, 2}, 1, 2)
	if _, err := Concat([]*Tensor{x, y}, 0); err == nil {
		t.Error("mismatched non-axis dims should fail")
	}
}

func TestGatherAndRange(t *testing.T) {
	e := NewEngine()
	x := mustNew(t, e, []float32{10, 20, 30, 40}, 4)
	idx := mustNew(t, e, []int32{3, 0, 0}, 3)
	g, err := Gather(x, idx, 0)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	wantFloats(t, g, []float32{40, 10, 10})

	bad := mustNew(t, e, []int32{9}, 1)
	if _, err := Gather(x, bad, 0); err == nil {
		t.Error("out-of-range index should fail")
	}

	r, err := e.Range(0, 5, 2, Float32)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	wantFloats(t, r, []float32{0, 2, 4})

	ri, err := e.Range(3, 0, -1, Int32)
	if err != nil {
		t.Fatalf("Range down: %v", err)
	}
	iv, _ := ri.Int32s()
	if len(iv) != 3 || iv[0] != 3 || iv[2] != 1 {
		t.Errorf("Range down = %v, want [3 2 1]", iv)
	}

	empty, err := e.Range(0, 5, -1, Float32)
	if err != nil {
		t.Fatalf("Range wrong direction: %v", err)
	}
	if empty.Size() != 0 {
		t.Errorf("wrong-direction range has %d elements, want 0", empty.Size())
	}

	if _, err := e.Range(0, 5, 0, Float32); err == nil {
		t.Error("zero step should fail")
	}
}

func TestMatMul(t *testing.T) {
	e := NewEngine()
	a := mustNew(t, e, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := mustNew(t, e, []float32{7, 8, 9, 10, 11, 12}, 3, 2)
	out, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul: %v", err)
	}
	if !sameShape(out.Shape(), []int{2, 2}) {
		t.Fatalf("shape = %v, want [2 2]", out.Shape())
	}
	wantFloats(t, out, []float32{58, 64, 139, 154})

	if _, err := MatMul(a, a); err == nil {
		t.Error("inner dimension mismatch should fail")
	}
}

func TestConv2D(t *testing.T) {
	e := NewEngine()
	// 1x3x3x1 input, 2x2 box filter.
	img := mustNew(t, e, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, 1, 3, 3, 1)
	box := mustNew(t, e, []float32{1, 1, 1, 1}, 2, 2, 1, 1)

	valid, err := Conv2D(img, box, 1, "valid")
	if err != nil {
		t.Fatalf("Conv2D valid: %v", err)
	}
	if !sameShape(valid.Shape(), []int{1, 2, 2, 1}) {
		t.Fatalf("valid shape = %v, want [1 2 2 1]", valid.Shape())
	}
	wantFloats(t, valid, []float32{12, 16, 24, 28})

	same, err := Conv2D(img, box, 1, "same")
	if err != nil {
		t.Fatalf("Conv2D same: %v", err)
	}
	if !sameShape(same.Shape(), []int{1, 3, 3, 1}) {
		t.Fatalf("same shape = %v, want [1 3 3 1]", same.Shape())
	}

	if _, err := Conv2D(img, box, 1, "full"); err == nil {
		t.Error("unknown padding should fail")
	}
	if _, err := Conv2D(img, box, 0, "same"); err == nil {
		t.Error("zero stride should fail")
	}
	rgb := mustNew(t, e, make([]float32, 27), 1, 3, 3, 3)
	if _, err := Conv2D(rgb, box, 1, "same"); err == nil {
		t.Error("channel mismatch should fail")
	}
}

func TestMaxPool2D(t *testing.T) {
	e := NewEngine()
	img := mustNew(t, e, []float32{
		1, 3, 2, 4,
		5, 7, 6, 8,
		9, 2, 1, 3,
		4, 6, 5, 7,
	}, 1, 4, 4, 1)
	out, err := MaxPool2D(img, 2, 2, "valid")
	if err != nil {
		t.Fatalf("MaxPool2D: %v", err)
	}
	if !sameShape(out.Shape(), []int{1, 2, 2, 1}) {
		t.Fatalf("shape = %v, want [1 2 2 1]", out.Shape())
	}
	wantFloats(t, out, []float32{7, 8, 9, 7})
}
