package engine

import (
	"fmt"
	"math"

	"github.com/realtime-ai/footstep/pkg/model"
)

// microOps is the operator set compiled into the micro backend.
var microOps = NewOpSet(
	"Abs", "Add", "Div", "Identity", "Mul", "Neg", "ReduceMean", "Relu", "Sigmoid", "Sub",
)

// tensor is a view of a buffer with its static shape.
type tensor struct {
	data  []float32
	shape []int64
}

// MicroBackend interprets small float32 graphs in pure Go.
//
// Shapes are inferred and every kernel is built once in Allocate; Invoke walks
// the prebuilt kernels and does not allocate. Binary operators support equal
// element counts or a single-element operand.
type MicroBackend struct {
	kernels []func()
}

// NewMicroBackend returns an unallocated micro backend.
func NewMicroBackend() *MicroBackend {
	return &MicroBackend{}
}

// Name implements Backend.
func (m *MicroBackend) Name() string { return "micro" }

// Ops implements Backend.
func (m *MicroBackend) Ops() OpSet { return microOps }

// Allocate implements Backend.
func (m *MicroBackend) Allocate(art *model.Artifact, arena *Arena, input, output []float32) error {
	in, out := art.Inputs()[0], art.Outputs()[0]

	values := map[string]tensor{
		in.Name: {data: input, shape: in.Shape},
	}
	lookup := func(name string) (tensor, error) {
		if t, ok := values[name]; ok {
			return t, nil
		}
		if init, ok := art.Initializer(name); ok {
			t := tensor{data: init.Data, shape: init.Dims}
			values[name] = t
			return t, nil
		}
		return tensor{}, fmt.Errorf("tensor %q is used before it is produced", name)
	}

	kernels := make([]func(), 0, len(art.Nodes()))
	for _, n := range art.Nodes() {
		if len(n.Outputs) != 1 {
			return fmt.Errorf("node %s: %d outputs, want 1", n.Name, len(n.Outputs))
		}

		args := make([]tensor, len(n.Inputs))
		for i, name := range n.Inputs {
			t, err := lookup(name)
			if err != nil {
				return fmt.Errorf("node %s: %w", n.Name, err)
			}
			args[i] = t
		}

		shape, err := inferShape(n, args)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.Name, err)
		}

		var dst []float32
		if n.Outputs[0] == out.Name {
			if model.Elements(shape) != len(output) {
				return fmt.Errorf("%w: node %s produces %v for output %s", ErrShapeMismatch, n.Name, shape, out)
			}
			dst = output
		} else {
			dst, err = arena.Alloc(model.Elements(shape))
			if err != nil {
				return fmt.Errorf("node %s: %w", n.Name, err)
			}
		}
		result := tensor{data: dst, shape: shape}

		k, err := buildKernel(n, args, result)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.Name, err)
		}
		kernels = append(kernels, k)
		values[n.Outputs[0]] = result
	}

	if _, ok := values[out.Name]; !ok {
		return fmt.Errorf("graph output %q is never produced", out.Name)
	}

	m.kernels = kernels
	return nil
}

// Invoke implements Backend.
func (m *MicroBackend) Invoke() error {
	if m.kernels == nil {
		return fmt.Errorf("micro backend not allocated")
	}
	for _, k := range m.kernels {
		k()
	}
	return nil
}

// Close implements Backend.
func (m *MicroBackend) Close() error {
	m.kernels = nil
	return nil
}

func arity(n model.Node, args []tensor, want int) error {
	if len(args) != want {
		return fmt.Errorf("%s takes %d inputs, got %d", n.OpType, want, len(args))
	}
	return nil
}

func inferShape(n model.Node, args []tensor) ([]int64, error) {
	switch n.OpType {
	case "Abs", "Identity", "Neg", "Relu", "Sigmoid":
		if err := arity(n, args, 1); err != nil {
			return nil, err
		}
		return args[0].shape, nil

	case "Add", "Sub", "Mul", "Div":
		if err := arity(n, args, 2); err != nil {
			return nil, err
		}
		a, b := args[0], args[1]
		na, nb := len(a.data), len(b.data)
		switch {
		case na == nb && len(a.shape) >= len(b.shape):
			return a.shape, nil
		case na == nb:
			return b.shape, nil
		case nb == 1:
			return a.shape, nil
		case na == 1:
			return b.shape, nil
		}
		return nil, fmt.Errorf("cannot broadcast %v with %v", a.shape, b.shape)

	case "ReduceMean":
		if err := arity(n, args, 1); err != nil {
			return nil, err
		}
		reduced, keep, err := reduceAxes(n, len(args[0].shape))
		if err != nil {
			return nil, err
		}
		shape := make([]int64, 0, len(args[0].shape))
		for d, dim := range args[0].shape {
			switch {
			case !reduced[d]:
				shape = append(shape, dim)
			case keep:
				shape = append(shape, 1)
			}
		}
		return shape, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, n.OpType)
}

// reduceAxes resolves the axes and keepdims attributes of a reduction over a
// tensor of the given rank. No axes means all axes.
func reduceAxes(n model.Node, rank int) ([]bool, bool, error) {
	keep := true
	if a, ok := n.Attr("keepdims"); ok {
		keep = a.I != 0
	}

	reduced := make([]bool, rank)
	a, ok := n.Attr("axes")
	if !ok || len(a.Ints) == 0 {
		for d := range reduced {
			reduced[d] = true
		}
		return reduced, keep, nil
	}
	for _, axis := range a.Ints {
		if axis < 0 {
			axis += int64(rank)
		}
		if axis < 0 || axis >= int64(rank) {
			return nil, false, fmt.Errorf("axis %d out of range for rank %d", axis, rank)
		}
		reduced[axis] = true
	}
	return reduced, keep, nil
}

func buildKernel(n model.Node, args []tensor, out tensor) (func(), error) {
	dst := out.data
	switch n.OpType {
	case "Abs":
		return unary(args[0].data, dst, func(x float32) float32 { return float32(math.Abs(float64(x))) }), nil
	case "Identity":
		src := args[0].data
		return func() { copy(dst, src) }, nil
	case "Neg":
		return unary(args[0].data, dst, func(x float32) float32 { return -x }), nil
	case "Relu":
		return unary(args[0].data, dst, func(x float32) float32 { return max(x, 0) }), nil
	case "Sigmoid":
		return unary(args[0].data, dst, func(x float32) float32 {
			return float32(1 / (1 + math.Exp(-float64(x))))
		}), nil
	case "Add":
		return binary(args[0].data, args[1].data, dst, func(a, b float32) float32 { return a + b }), nil
	case "Sub":
		return binary(args[0].data, args[1].data, dst, func(a, b float32) float32 { return a - b }), nil
	case "Mul":
		return binary(args[0].data, args[1].data, dst, func(a, b float32) float32 { return a * b }), nil
	case "Div":
		return binary(args[0].data, args[1].data, dst, func(a, b float32) float32 { return a / b }), nil
	case "ReduceMean":
		return reduceMean(n, args[0], out)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, n.OpType)
}

func unary(src, dst []float32, f func(float32) float32) func() {
	return func() {
		for i, x := range src {
			dst[i] = f(x)
		}
	}
}

func binary(a, b, dst []float32, f func(a, b float32) float32) func() {
	switch {
	case len(a) == len(b):
		return func() {
			for i := range dst {
				dst[i] = f(a[i], b[i])
			}
		}
	case len(b) == 1:
		return func() {
			for i := range dst {
				dst[i] = f(a[i], b[0])
			}
		}
	default:
		return func() {
			for i := range dst {
				dst[i] = f(a[0], b[i])
			}
		}
	}
}

func reduceMean(n model.Node, x, out tensor) (func(), error) {
	rank := len(x.shape)
	reduced, _, err := reduceAxes(n, rank)
	if err != nil {
		return nil, err
	}

	// inStrides walks the input; outStrides maps an input coordinate to its
	// output slot, with reduced axes contributing nothing.
	inStrides := make([]int, rank)
	outStrides := make([]int, rank)
	in, o := 1, 1
	count := 1
	for d := rank - 1; d >= 0; d-- {
		inStrides[d] = in
		in *= int(x.shape[d])
		if reduced[d] {
			count *= int(x.shape[d])
			continue
		}
		outStrides[d] = o
		o *= int(x.shape[d])
	}
	scale := float32(1) / float32(count)
	src, dst := x.data, out.data

	return func() {
		for i := range dst {
			dst[i] = 0
		}
		for i, v := range src {
			idx, rem := 0, i
			for d := 0; d < rank; d++ {
				c := rem / inStrides[d]
				rem %= inStrides[d]
				idx += c * outStrides[d]
			}
			dst[idx] += v
		}
		for i := range dst {
			dst[i] *= scale
		}
	}, nil
}
