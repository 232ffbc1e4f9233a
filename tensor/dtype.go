package tensor

import "fmt"

// DType identifies the element type of a tensor buffer.
type DType int

const (
	Float32 DType = iota
	Int32
	Bool
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}
