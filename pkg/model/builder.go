package model

import (
	"encoding/binary"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Builder assembles a small ONNX model. It is used to regenerate the embedded
// artifact and to produce artifacts with specific signatures in tests.
type Builder struct {
	irVersion       int64
	opsetVersion    int64
	producerName    string
	producerVersion string
	graphName       string

	nodes        []Node
	initializers []Initializer
	inputs       []TensorInfo
	outputs      []TensorInfo
}

// NewBuilder returns a builder for a graph called name at the supported schema
// version and opset 13.
func NewBuilder(name string) *Builder {
	return &Builder{
		irVersion:       SchemaVersion,
		opsetVersion:    13,
		producerName:    "footstep-genmodel",
		producerVersion: "1",
		graphName:       name,
	}
}

// SetSchemaVersion overrides the IR version written to the artifact.
func (b *Builder) SetSchemaVersion(v int64) *Builder {
	b.irVersion = v
	return b
}

// SetOpsetVersion overrides the default-domain opset version.
func (b *Builder) SetOpsetVersion(v int64) *Builder {
	b.opsetVersion = v
	return b
}

// AddInput declares a graph input.
func (b *Builder) AddInput(name string, dt DataType, shape ...int64) *Builder {
	b.inputs = append(b.inputs, TensorInfo{Name: name, DataType: dt, Shape: shape})
	return b
}

// AddOutput declares a graph output.
func (b *Builder) AddOutput(name string, dt DataType, shape ...int64) *Builder {
	b.outputs = append(b.outputs, TensorInfo{Name: name, DataType: dt, Shape: shape})
	return b
}

// AddInitializer adds a constant float tensor.
func (b *Builder) AddInitializer(name string, dims []int64, data []float32) *Builder {
	b.initializers = append(b.initializers, Initializer{
		Name:     name,
		DataType: DataTypeFloat,
		Dims:     dims,
		Data:     data,
	})
	return b
}

// AddNode appends an operator. Nodes must be added in topological order.
func (b *Builder) AddNode(opType string, inputs, outputs []string, attrs ...Attribute) *Builder {
	b.nodes = append(b.nodes, Node{
		Name:       opType + "_" + outputs[0],
		OpType:     opType,
		Inputs:     inputs,
		Outputs:    outputs,
		Attributes: attrs,
	})
	return b
}

// IntAttr builds an integer attribute.
func IntAttr(name string, v int64) Attribute {
	return Attribute{Name: name, Type: AttributeInt, I: v}
}

// IntsAttr builds an integer-list attribute.
func IntsAttr(name string, v ...int64) Attribute {
	return Attribute{Name: name, Type: AttributeInts, Ints: v}
}

// FloatAttr builds a float attribute.
func FloatAttr(name string, v float32) Attribute {
	return Attribute{Name: name, Type: AttributeFloat, F: v}
}

// Bytes serializes the model.
func (b *Builder) Bytes() []byte {
	var out []byte
	out = appendVarintField(out, modelIRVersion, uint64(b.irVersion))
	out = appendStringField(out, modelProducerName, b.producerName)
	out = appendStringField(out, modelProducerVersion, b.producerVersion)
	out = appendMessageField(out, modelGraph, b.graphBytes())

	var opset []byte
	opset = appendStringField(opset, opsetDomain, "")
	opset = appendVarintField(opset, opsetVersion, uint64(b.opsetVersion))
	out = appendMessageField(out, modelOpsetImport, opset)
	return out
}

func (b *Builder) graphBytes() []byte {
	var g []byte
	for _, n := range b.nodes {
		g = appendMessageField(g, graphNode, nodeBytes(n))
	}
	g = appendStringField(g, graphName, b.graphName)
	for _, init := range b.initializers {
		g = appendMessageField(g, graphInitializer, initializerBytes(init))
	}
	for _, in := range b.inputs {
		g = appendMessageField(g, graphInput, valueInfoBytes(in))
	}
	for _, out := range b.outputs {
		g = appendMessageField(g, graphOutput, valueInfoBytes(out))
	}
	return g
}

func nodeBytes(n Node) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = appendStringField(b, nodeInput, in)
	}
	for _, out := range n.Outputs {
		b = appendStringField(b, nodeOutput, out)
	}
	b = appendStringField(b, nodeName, n.Name)
	b = appendStringField(b, nodeOpType, n.OpType)
	for _, a := range n.Attributes {
		b = appendMessageField(b, nodeAttribute, attributeBytes(a))
	}
	return b
}

func attributeBytes(a Attribute) []byte {
	var b []byte
	b = appendStringField(b, attrName, a.Name)
	switch a.Type {
	case AttributeFloat:
		b = protowire.AppendTag(b, attrF, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeInt:
		b = appendVarintField(b, attrI, uint64(a.I))
	case AttributeFloats:
		for _, f := range a.Floats {
			b = protowire.AppendTag(b, attrFloats, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(f))
		}
	case AttributeInts:
		for _, i := range a.Ints {
			b = appendVarintField(b, attrInts, uint64(i))
		}
	}
	b = appendVarintField(b, attrType, uint64(a.Type))
	return b
}

func initializerBytes(init Initializer) []byte {
	var b []byte
	for _, d := range init.Dims {
		b = appendVarintField(b, tensorDims, uint64(d))
	}
	b = appendVarintField(b, tensorDataType, uint64(init.DataType))
	packed := make([]byte, 4*len(init.Data))
	for i, f := range init.Data {
		binary.LittleEndian.PutUint32(packed[4*i:], math.Float32bits(f))
	}
	b = appendMessageField(b, tensorFloatData, packed)
	b = appendStringField(b, tensorName, init.Name)
	return b
}

func valueInfoBytes(info TensorInfo) []byte {
	var shape []byte
	for _, d := range info.Shape {
		shape = appendMessageField(shape, shapeDim, appendVarintField(nil, dimValue, uint64(d)))
	}

	var tensor []byte
	tensor = appendVarintField(tensor, tensorTypeElem, uint64(info.DataType))
	tensor = appendMessageField(tensor, tensorTypeShape, shape)

	var b []byte
	b = appendStringField(b, valueInfoName, info.Name)
	b = appendMessageField(b, valueInfoType, appendMessageField(nil, typeTensor, tensor))
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
