// Package tensor implements a small dense-tensor library with named-kernel
// dispatch.
//
// Every operation follows the same two-step shape: the exported wrapper
// validates ranks, dtypes and attribute ranges, then hands the inputs to the
// engine, which routes the kernel name to a registered implementation. The
// default engine ships with CPU kernels; RegisterKernel swaps any of them for
// a backend-specific one without touching the op wrappers.
//
// Memory is explicit. Tensors stay alive until Dispose is called, and
// Engine.Tidy runs a function inside a scope that releases every intermediate
// tensor except the one the function returns:
//
//	out, err := e.Tidy(func() (*tensor.Tensor, error) {
//	    gx, err := tensor.Conv2D(img, sobelX, 1, "same")
//	    if err != nil {
//	        return nil, err
//	    }
//	    return tensor.Abs(gx)
//	})
//
// An Engine is not safe for concurrent use; give each worker its own, or use
// Default from a single goroutine.
package tensor
