package tensor

import (
	"fmt"
	"math"
)

// registerCPUKernels installs the reference implementations. Any of them can
// be replaced through RegisterKernel.
func registerCPUKernels(e *Engine) {
	e.RegisterKernel("Add", func(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
		return cpuBinary(e, in[0], in[1],
			func(x, y float32) float32 { return x + y },
			func(x, y int32) int32 { return x + y })
	})
	e.RegisterKernel("Sub", func(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
		return cpuBinary(e, in[0], in[1],
			func(x, y float32) float32 { return x - y },
			func(x, y int32) int32 { return x - y })
	})
	e.RegisterKernel("Mul", func(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
		return cpuBinary(e, in[0], in[1],
			func(x, y float32) float32 { return x * y },
			func(x, y int32) int32 { return x * y })
	})
	e.RegisterKernel("Div", func(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
		return cpuBinary(e, in[0], in[1],
			func(x, y float32) float32 { return x / y },
			func(x, y int32) int32 {
				if y == 0 {
					return 0
				}
				return x / y
			})
	})
	e.RegisterKernel("Neg", func(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
		return cpuUnary(e, in[0],
			func(x float32) float32 { return -x },
			func(x int32) int32 { return -x })
	})
	e.RegisterKernel("Abs", func(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
		return cpuUnary(e, in[0],
			func(x float32) float32 {
				if x < 0 {
					return -x
				}
				return x
			},
			func(x int32) int32 {
				if x < 0 {
					return -x
				}
				return x
			})
	})
	e.RegisterKernel("Sqrt", func(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
		return cpuUnary(e, in[0], func(x float32) float32 {
			return float32(math.Sqrt(float64(x)))
		}, nil)
	})
	e.RegisterKernel("Relu", func(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
		return cpuUnary(e, in[0], func(x float32) float32 {
			if x < 0 {
				return 0
			}
			return x
		}, nil)
	})
	e.RegisterKernel("Sigmoid", func(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
		return cpuUnary(e, in[0], func(x float32) float32 {
			return float32(1 / (1 + math.Exp(-float64(x))))
		}, nil)
	})
	e.RegisterKernel("Softmax", cpuSoftmax)
	e.RegisterKernel("Sum", cpuSum)
	e.RegisterKernel("Max", cpuMax)
	e.RegisterKernel("Mean", cpuMean)
	e.RegisterKernel("ArgMax", cpuArgMax)
	e.RegisterKernel("Reshape", cpuReshape)
	e.RegisterKernel("Transpose", cpuTranspose)
	e.RegisterKernel("Slice", cpuSlice)
	e.RegisterKernel("Concat", cpuConcat)
	e.RegisterKernel("Gather", cpuGather)
	e.RegisterKernel("Range", cpuRange)
	e.RegisterKernel("MatMul", cpuMatMul)
	e.RegisterKernel("Conv2D", cpuConv2D)
	e.RegisterKernel("MaxPool2D", cpuMaxPool2D)
}

func cpuBinary(e *Engine, a, b *Tensor, ff func(x, y float32) float32, fi func(x, y int32) int32) (*Tensor, error) {
	outShape, err := broadcastShapes(a.shape, b.shape)
	if err != nil {
		return nil, err
	}
	out := e.alloc(outShape, a.dtype)
	n := sizeOf(outShape)
	fast := sameShape(a.shape, outShape) && sameShape(b.shape, outShape)
	for i := 0; i < n; i++ {
		ia, ib := i, i
		if !fast {
			ia = broadcastIndex(i, outShape, a.shape)
			ib = broadcastIndex(i, outShape, b.shape)
		}
		if a.dtype == Float32 {
			out.f32[i] = ff(a.f32[ia], b.f32[ib])
		} else {
			out.i32[i] = fi(a.i32[ia], b.i32[ib])
		}
	}
	return out, nil
}

func cpuUnary(e *Engine, x *Tensor, ff func(float32) float32, fi func(int32) int32) (*Tensor, error) {
	out := e.alloc(x.shape, x.dtype)
	if x.dtype == Float32 {
		for i, v := range x.f32 {
			out.f32[i] = ff(v)
		}
		return out, nil
	}
	if fi == nil {
		return nil, fmt.Errorf("kernel has no int32 path")
	}
	for i, v := range x.i32 {
		out.i32[i] = fi(v)
	}
	return out, nil
}

func cpuSoftmax(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
	x := in[0]
	inner := x.shape[len(x.shape)-1]
	outer := x.Size() / inner
	out := e.alloc(x.shape, Float32)
	for o := 0; o < outer; o++ {
		row := x.f32[o*inner : (o+1)*inner]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		var sum float64
		exps := out.f32[o*inner : (o+1)*inner]
		for i, v := range row {
			ev := math.Exp(float64(v - maxV))
			exps[i] = float32(ev)
			sum += ev
		}
		for i := range exps {
			exps[i] = float32(float64(exps[i]) / sum)
		}
	}
	return out, nil
}

// reduceDims splits a shape at an axis into outer, axis and inner extents.
func reduceDims(shape []int, axis int) (outer, axisN, inner int, outShape []int) {
	outer, inner = 1, 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	axisN = shape[axis]
	outShape = append(append([]int(nil), shape[:axis]...), shape[axis+1:]...)
	return
}

func cpuSum(e *Engine, in []*Tensor, attrs map[string]any) (*Tensor, error) {
	x := in[0]
	axis := attrs["axis"].(int)
	outer, axisN, inner, outShape := reduceDims(x.shape, axis)
	out := e.alloc(outShape, x.dtype)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			if x.dtype == Float32 {
				var acc float32
				for k := 0; k < axisN; k++ {
					acc += x.f32[(o*axisN+k)*inner+i]
				}
				out.f32[o*inner+i] = acc
			} else {
				var acc int32
				for k := 0; k < axisN; k++ {
					acc += x.i32[(o*axisN+k)*inner+i]
				}
				out.i32[o*inner+i] = acc
			}
		}
	}
	return out, nil
}

func cpuMax(e *Engine, in []*Tensor, attrs map[string]any) (*Tensor, error) {
	x := in[0]
	axis := attrs["axis"].(int)
	outer, axisN, inner, outShape := reduceDims(x.shape, axis)
	out := e.alloc(outShape, x.dtype)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			if x.dtype == Float32 {
				best := x.f32[o*axisN*inner+i]
				for k := 1; k < axisN; k++ {
					if v := x.f32[(o*axisN+k)*inner+i]; v > best {
						best = v
					}
				}
				out.f32[o*inner+i] = best
			} else {
				best := x.i32[o*axisN*inner+i]
				for k := 1; k < axisN; k++ {
					if v := x.i32[(o*axisN+k)*inner+i]; v > best {
						best = v
					}
				}
				out.i32[o*inner+i] = best
			}
		}
	}
	return out, nil
}

func cpuMean(e *Engine, in []*Tensor, attrs map[string]any) (*Tensor, error) {
	x := in[0]
	axis := attrs["axis"].(int)
	outer, axisN, inner, outShape := reduceDims(x.shape, axis)
	out := e.alloc(outShape, Float32)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			var acc float64
			for k := 0; k < axisN; k++ {
				acc += float64(x.f32[(o*axisN+k)*inner+i])
			}
			out.f32[o*inner+i] = float32(acc / float64(axisN))
		}
	}
	return out, nil
}

func cpuArgMax(e *Engine, in []*Tensor, attrs map[string]any) (*Tensor, error) {
	x := in[0]
	axis := attrs["axis"].(int)
	outer, axisN, inner, outShape := reduceDims(x.shape, axis)
	out := e.alloc(outShape, Int32)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			bestIdx := 0
			if x.dtype == Float32 {
				best := x.f32[o*axisN*inner+i]
				for k := 1; k < axisN; k++ {
					if v := x.f32[(o*axisN+k)*inner+i]; v > best {
						best, bestIdx = v, k
					}
				}
			} else {
				best := x.i32[o*axisN*inner+i]
				for k := 1; k < axisN; k++ {
					if v := x.i32[(o*axisN+k)*inner+i]; v > best {
						best, bestIdx = v, k
					}
				}
			}
			out.i32[o*inner+i] = int32(bestIdx)
		}
	}
	return out, nil
}

func cpuReshape(e *Engine, in []*Tensor, attrs map[string]any) (*Tensor, error) {
	x := in[0]
	shape := attrs["shape"].([]int)
	out := e.alloc(shape, x.dtype)
	copy(out.f32, x.f32)
	copy(out.i32, x.i32)
	copy(out.bools, x.bools)
	return out, nil
}

func cpuTranspose(e *Engine, in []*Tensor, attrs map[string]any) (*Tensor, error) {
	x := in[0]
	perm := attrs["perm"].([]int)
	r := len(x.shape)
	outShape := make([]int, r)
	for i, p := range perm {
		outShape[i] = x.shape[p]
	}
	out := e.alloc(outShape, x.dtype)
	inStr := stridesOf(x.shape)
	outStr := stridesOf(outShape)
	n := x.Size()
	for i := 0; i < n; i++ {
		src := 0
		for d := 0; d < r; d++ {
			coord := (i / outStr[d]) % outShape[d]
			src += coord * inStr[perm[d]]
		}
		switch x.dtype {
		case Float32:
			out.f32[i] = x.f32[src]
		case Int32:
			out.i32[i] = x.i32[src]
		default:
			out.bools[i] = x.bools[src]
		}
	}
	return out, nil
}

func cpuSlice(e *Engine, in []*Tensor, attrs map[string]any) (*Tensor, error) {
	x := in[0]
	begin := attrs["begin"].([]int)
	size := attrs["size"].([]int)
	out := e.alloc(size, x.dtype)
	inStr := stridesOf(x.shape)
	outStr := stridesOf(size)
	n := sizeOf(size)
	for i := 0; i < n; i++ {
		src := 0
		for d := range size {
			coord := (i / outStr[d]) % size[d]
			src += (begin[d] + coord) * inStr[d]
		}
		switch x.dtype {
		case Float32:
			out.f32[i] = x.f32[src]
		case Int32:
			out.i32[i] = x.i32[src]
		default:
			out.bools[i] = x.bools[src]
		}
	}
	return out, nil
}

func cpuConcat(e *Engine, in []*Tensor, attrs map[string]any) (*Tensor, error) {
	axis := attrs["axis"].(int)
	first := in[0]
	outShape := first.Shape()
	for _, t := range in[1:] {
		outShape[axis] += t.shape[axis]
	}
	out := e.alloc(outShape, first.dtype)
	inner := 1
	for i := axis + 1; i < len(outShape); i++ {
		inner *= outShape[i]
	}
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= outShape[i]
	}
	outRow := outShape[axis] * inner
	for o := 0; o < outer; o++ {
		off := 0
		for _, t := range in {
			row := t.shape[axis] * inner
			dst := o*outRow + off
			src := o * row
			switch first.dtype {
			case Float32:
				copy(out.f32[dst:dst+row], t.f32[src:src+row])
			case Int32:
				copy(out.i32[dst:dst+row], t.i32[src:src+row])
			default:
				copy(out.bools[dst:dst+row], t.bools[src:src+row])
			}
			off += row
		}
	}
	return out, nil
}

func cpuGather(e *Engine, in []*Tensor, attrs map[string]any) (*Tensor, error) {
	x, idx := in[0], in[1]
	axis := attrs["axis"].(int)
	outer, axisN, inner, _ := reduceDims(x.shape, axis)
	outShape := append(append(append([]int(nil), x.shape[:axis]...), idx.shape...), x.shape[axis+1:]...)
	out := e.alloc(outShape, x.dtype)
	nIdx := idx.Size()
	for o := 0; o < outer; o++ {
		for j := 0; j < nIdx; j++ {
			k := int(idx.i32[j])
			if k < 0 || k >= axisN {
				return nil, fmt.Errorf("gather index %d out of range [0,%d)", k, axisN)
			}
			dst := (o*nIdx + j) * inner
			src := (o*axisN + k) * inner
			switch x.dtype {
			case Float32:
				copy(out.f32[dst:dst+inner], x.f32[src:src+inner])
			case Int32:
				copy(out.i32[dst:dst+inner], x.i32[src:src+inner])
			default:
				copy(out.bools[dst:dst+inner], x.bools[src:src+inner])
			}
		}
	}
	return out, nil
}

func cpuRange(e *Engine, _ []*Tensor, attrs map[string]any) (*Tensor, error) {
	start := attrs["start"].(float64)
	stop := attrs["stop"].(float64)
	step := attrs["step"].(float64)
	dtype := attrs["dtype"].(DType)
	count := int(math.Ceil((stop - start) / step))
	if count < 0 {
		count = 0
	}
	out := e.alloc([]int{count}, dtype)
	v := start
	for i := 0; i < count; i++ {
		if dtype == Float32 {
			out.f32[i] = float32(v)
		} else {
			out.i32[i] = int32(v)
		}
		v += step
	}
	return out, nil
}

func cpuMatMul(e *Engine, in []*Tensor, _ map[string]any) (*Tensor, error) {
	a, b := in[0], in[1]
	m, k, n := a.shape[0], a.shape[1], b.shape[1]
	out := e.alloc([]int{m, n}, Float32)
	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			av := a.f32[i*k+p]
			if av == 0 {
				continue
			}
			row := b.f32[p*n : (p+1)*n]
			dst := out.f32[i*n : (i+1)*n]
			for j, bv := range row {
				dst[j] += av * bv
			}
		}
	}
	return out, nil
}

// convOut computes the output extent and leading pad for one spatial axis.
func convOut(in, k, stride int, same bool) (out, padHead int) {
	if same {
		out = (in + stride - 1) / stride
		total := (out-1)*stride + k - in
		if total < 0 {
			total = 0
		}
		return out, total / 2
	}
	return (in-k)/stride + 1, 0
}

func cpuConv2D(e *Engine, in []*Tensor, attrs map[string]any) (*Tensor, error) {
	x, f := in[0], in[1]
	stride := attrs["stride"].(int)
	same := attrs["padding"].(string) == "same"
	batch, inH, inW, inC := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	kH, kW, outC := f.shape[0], f.shape[1], f.shape[3]
	outH, padT := convOut(inH, kH, stride, same)
	outW, padL := convOut(inW, kW, stride, same)
	out := e.alloc([]int{batch, outH, outW, outC}, Float32)
	for b := 0; b < batch; b++ {
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				for oc := 0; oc < outC; oc++ {
					var acc float32
					for ky := 0; ky < kH; ky++ {
						iy := oy*stride + ky - padT
						if iy < 0 || iy >= inH {
							continue
						}
						for kx := 0; kx < kW; kx++ {
							ix := ox*stride + kx - padL
							if ix < 0 || ix >= inW {
								continue
							}
							for ic := 0; ic < inC; ic++ {
								xv := x.f32[((b*inH+iy)*inW+ix)*inC+ic]
								fv := f.f32[((ky*kW+kx)*inC+ic)*outC+oc]
								acc += xv * fv
							}
						}
					}
					out.f32[((b*outH+oy)*outW+ox)*outC+oc] = acc
				}
			}
		}
	}
	return out, nil
}

func cpuMaxPool2D(e *Engine, in []*Tensor, attrs map[string]any) (*Tensor, error) {
	x := in[0]
	pool := attrs["pool"].(int)
	stride := attrs["stride"].(int)
	same := attrs["padding"].(string) == "same"
	batch, inH, inW, c := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	outH, padT := convOut(inH, pool, stride, same)
	outW, padL := convOut(inW, pool, stride, same)
	out := e.alloc([]int{batch, outH, outW, c}, Float32)
	negInf := float32(math.Inf(-1))
	for b := 0; b < batch; b++ {
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				for ch := 0; ch < c; ch++ {
					best := negInf
					for ky := 0; ky < pool; ky++ {
						iy := oy*stride + ky - padT
						if iy < 0 || iy >= inH {
							continue
						}
						for kx := 0; kx < pool; kx++ {
							ix := ox*stride + kx - padL
							if ix < 0 || ix >= inW {
								continue
							}
							if v := x.f32[((b*inH+iy)*inW+ix)*c+ch]; v > best {
								best = v
							}
						}
					}
					out.f32[((b*outH+oy)*outW+ox)*c+ch] = best
				}
			}
		}
	}
	return out, nil
}
