// Package model reads and writes the serialized model artifact consumed by the
// inference engine.
//
// Artifacts are ONNX ModelProto blobs. The package decodes only what the engine
// needs to validate and run a small fixed-shape model: the IR (schema) version,
// the opset, the graph signature, the node list and float initializers. The
// wire format is walked with protowire, so no generated ONNX bindings are
// required.
//
// Usage:
//
//	art, err := model.Load(model.Embedded())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if art.SchemaVersion() != model.SchemaVersion {
//	    // refuse to run
//	}
package model

import (
	"errors"
	"fmt"
	"sort"
)

// SchemaVersion is the ONNX IR version this runtime was built against.
// Artifacts must match it exactly.
const SchemaVersion int64 = 8

// ErrInvalidModel is returned when an artifact cannot be decoded.
var ErrInvalidModel = errors.New("invalid model artifact")

// DataType mirrors TensorProto.DataType.
type DataType int32

const (
	DataTypeUndefined DataType = 0
	DataTypeFloat     DataType = 1
	DataTypeInt16     DataType = 5
	DataTypeInt32     DataType = 6
	DataTypeInt64     DataType = 7
)

func (d DataType) String() string {
	switch d {
	case DataTypeFloat:
		return "float32"
	case DataTypeInt16:
		return "int16"
	case DataTypeInt32:
		return "int32"
	case DataTypeInt64:
		return "int64"
	default:
		return fmt.Sprintf("dtype(%d)", int32(d))
	}
}

// TensorInfo describes one graph input or output.
type TensorInfo struct {
	Name     string
	DataType DataType
	// Shape holds the static dimensions. Symbolic dimensions are reported as -1.
	Shape []int64
}

// Elements returns the number of elements of a fully static shape, or -1 when
// any dimension is symbolic.
func (t TensorInfo) Elements() int {
	return Elements(t.Shape)
}

func (t TensorInfo) String() string {
	return fmt.Sprintf("%s:%s%v", t.Name, t.DataType, t.Shape)
}

// Elements returns the product of shape, or -1 when a dimension is unknown.
// An empty shape is a scalar with one element.
func Elements(shape []int64) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return -1
		}
		n *= int(d)
	}
	return n
}

// AttributeType mirrors AttributeProto.AttributeType for the kinds decoded here.
type AttributeType int32

const (
	AttributeFloat  AttributeType = 1
	AttributeInt    AttributeType = 2
	AttributeFloats AttributeType = 6
	AttributeInts   AttributeType = 7
)

// Attribute is a node attribute.
type Attribute struct {
	Name   string
	Type   AttributeType
	F      float32
	I      int64
	Floats []float32
	Ints   []int64
}

// Node is one operator application in the graph.
type Node struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

// Attr returns the attribute called name.
func (n Node) Attr(name string) (Attribute, bool) {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Initializer is a constant float tensor stored in the graph.
type Initializer struct {
	Name     string
	DataType DataType
	Dims     []int64
	Data     []float32
}

// Artifact is a decoded, read-only model.
type Artifact struct {
	raw []byte

	irVersion       int64
	opsetVersion    int64
	producerName    string
	producerVersion string
	graphName       string

	inputs       []TensorInfo
	outputs      []TensorInfo
	nodes        []Node
	initializers map[string]Initializer
}

// Load decodes an ONNX ModelProto. The returned artifact keeps a reference to
// data, which must not be modified afterwards.
func Load(data []byte) (*Artifact, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty artifact", ErrInvalidModel)
	}

	a := &Artifact{
		raw:          data,
		initializers: make(map[string]Initializer),
	}
	if err := a.decodeModel(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if a.graphName == "" && len(a.nodes) == 0 && len(a.inputs) == 0 {
		return nil, fmt.Errorf("%w: no graph", ErrInvalidModel)
	}

	// Graph inputs that are also initializers are constants, not runtime inputs.
	inputs := a.inputs[:0]
	for _, in := range a.inputs {
		if _, ok := a.initializers[in.Name]; ok {
			continue
		}
		inputs = append(inputs, in)
	}
	a.inputs = inputs

	return a, nil
}

// Bytes returns the serialized artifact.
func (a *Artifact) Bytes() []byte { return a.raw }

// SchemaVersion returns the artifact's IR version.
func (a *Artifact) SchemaVersion() int64 { return a.irVersion }

// OpsetVersion returns the version of the default-domain opset import.
func (a *Artifact) OpsetVersion() int64 { return a.opsetVersion }

// Producer returns the producer name and version recorded in the artifact.
func (a *Artifact) Producer() (string, string) { return a.producerName, a.producerVersion }

// GraphName returns the name of the main graph.
func (a *Artifact) GraphName() string { return a.graphName }

// Inputs returns the runtime graph inputs.
func (a *Artifact) Inputs() []TensorInfo { return a.inputs }

// Outputs returns the graph outputs.
func (a *Artifact) Outputs() []TensorInfo { return a.outputs }

// Nodes returns the graph nodes in topological order.
func (a *Artifact) Nodes() []Node { return a.nodes }

// Initializer returns the constant tensor called name.
func (a *Artifact) Initializer(name string) (Initializer, bool) {
	init, ok := a.initializers[name]
	return init, ok
}

// Ops returns the distinct operator types used by the graph, sorted.
func (a *Artifact) Ops() []string {
	seen := make(map[string]struct{}, len(a.nodes))
	ops := make([]string, 0, len(a.nodes))
	for _, n := range a.nodes {
		if _, ok := seen[n.OpType]; ok {
			continue
		}
		seen[n.OpType] = struct{}{}
		ops = append(ops, n.OpType)
	}
	sort.Strings(ops)
	return ops
}

func (a *Artifact) String() string {
	return fmt.Sprintf("Artifact{ir=%d opset=%d graph=%q inputs=%v outputs=%v ops=%v}",
		a.irVersion, a.opsetVersion, a.graphName, a.inputs, a.outputs, a.Ops())
}
