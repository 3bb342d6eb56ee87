package model

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto.
const (
	modelIRVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12

	nodeInput     protowire.Number = 1
	nodeOutput    protowire.Number = 2
	nodeName      protowire.Number = 3
	nodeOpType    protowire.Number = 4
	nodeAttribute protowire.Number = 5
	nodeDomain    protowire.Number = 7

	attrName   protowire.Number = 1
	attrF      protowire.Number = 2
	attrI      protowire.Number = 3
	attrFloats protowire.Number = 7
	attrInts   protowire.Number = 8
	attrType   protowire.Number = 20

	tensorDims      protowire.Number = 1
	tensorDataType  protowire.Number = 2
	tensorFloatData protowire.Number = 4
	tensorName      protowire.Number = 8
	tensorRawData   protowire.Number = 9

	valueInfoName protowire.Number = 1
	valueInfoType protowire.Number = 2

	typeTensor protowire.Number = 1

	tensorTypeElem  protowire.Number = 1
	tensorTypeShape protowire.Number = 2

	shapeDim protowire.Number = 1

	dimValue protowire.Number = 1
	dimParam protowire.Number = 2
)

// field is one decoded wire field. Exactly one of the value members is set,
// according to typ.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	u64   uint64
	bytes []byte
}

// walk calls fn for every top-level field of a protobuf message.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u64, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u64 = uint64(v)
		case protowire.Fixed64Type:
			f.u64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// int64s appends a repeated int64 field that may be packed or not.
func int64s(dst []int64, f field) ([]int64, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, int64(f.u64)), nil
	case protowire.BytesType:
		b := f.bytes
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dst = append(dst, int64(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("field %d: unexpected wire type %d", f.num, f.typ)
	}
}

// float32s appends a repeated float field that may be packed or not.
func float32s(dst []float32, f field) ([]float32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return append(dst, math.Float32frombits(uint32(f.u64))), nil
	case protowire.BytesType:
		if len(f.bytes)%4 != 0 {
			return nil, fmt.Errorf("field %d: packed float length %d", f.num, len(f.bytes))
		}
		for i := 0; i < len(f.bytes); i += 4 {
			dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(f.bytes[i:])))
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("field %d: unexpected wire type %d", f.num, f.typ)
	}
}

func (a *Artifact) decodeModel(b []byte) error {
	var graph []byte
	err := walk(b, func(f field) error {
		switch f.num {
		case modelIRVersion:
			a.irVersion = int64(f.u64)
		case modelProducerName:
			a.producerName = string(f.bytes)
		case modelProducerVersion:
			a.producerVersion = string(f.bytes)
		case modelGraph:
			graph = f.bytes
		case modelOpsetImport:
			return a.decodeOpset(f.bytes)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if graph == nil {
		return nil
	}
	return a.decodeGraph(graph)
}

func (a *Artifact) decodeOpset(b []byte) error {
	var domain string
	var version int64
	err := walk(b, func(f field) error {
		switch f.num {
		case opsetDomain:
			domain = string(f.bytes)
		case opsetVersion:
			version = int64(f.u64)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("opset_import: %w", err)
	}
	if domain == "" || domain == "ai.onnx" {
		a.opsetVersion = version
	}
	return nil
}

func (a *Artifact) decodeGraph(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case graphName:
			a.graphName = string(f.bytes)
		case graphNode:
			n, err := decodeNode(f.bytes)
			if err != nil {
				return fmt.Errorf("node %d: %w", len(a.nodes), err)
			}
			a.nodes = append(a.nodes, n)
		case graphInitializer:
			init, err := decodeInitializer(f.bytes)
			if err != nil {
				return fmt.Errorf("initializer: %w", err)
			}
			a.initializers[init.Name] = init
		case graphInput:
			info, err := decodeValueInfo(f.bytes)
			if err != nil {
				return fmt.Errorf("input: %w", err)
			}
			a.inputs = append(a.inputs, info)
		case graphOutput:
			info, err := decodeValueInfo(f.bytes)
			if err != nil {
				return fmt.Errorf("output: %w", err)
			}
			a.outputs = append(a.outputs, info)
		}
		return nil
	})
}

func decodeNode(b []byte) (Node, error) {
	var n Node
	err := walk(b, func(f field) error {
		switch f.num {
		case nodeInput:
			n.Inputs = append(n.Inputs, string(f.bytes))
		case nodeOutput:
			n.Outputs = append(n.Outputs, string(f.bytes))
		case nodeName:
			n.Name = string(f.bytes)
		case nodeOpType:
			n.OpType = string(f.bytes)
		case nodeDomain:
			n.Domain = string(f.bytes)
		case nodeAttribute:
			attr, err := decodeAttribute(f.bytes)
			if err != nil {
				return err
			}
			n.Attributes = append(n.Attributes, attr)
		}
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	if n.OpType == "" {
		return Node{}, fmt.Errorf("missing op_type")
	}
	return n, nil
}

func decodeAttribute(b []byte) (Attribute, error) {
	var attr Attribute
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case attrName:
			attr.Name = string(f.bytes)
		case attrType:
			attr.Type = AttributeType(f.u64)
		case attrF:
			attr.F = math.Float32frombits(uint32(f.u64))
		case attrI:
			attr.I = int64(f.u64)
		case attrFloats:
			attr.Floats, err = float32s(attr.Floats, f)
		case attrInts:
			attr.Ints, err = int64s(attr.Ints, f)
		}
		return err
	})
	if err != nil {
		return Attribute{}, fmt.Errorf("attribute %q: %w", attr.Name, err)
	}
	return attr, nil
}

func decodeInitializer(b []byte) (Initializer, error) {
	var init Initializer
	var raw []byte
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case tensorName:
			init.Name = string(f.bytes)
		case tensorDataType:
			init.DataType = DataType(f.u64)
		case tensorDims:
			init.Dims, err = int64s(init.Dims, f)
		case tensorFloatData:
			init.Data, err = float32s(init.Data, f)
		case tensorRawData:
			raw = f.bytes
		}
		return err
	})
	if err != nil {
		return Initializer{}, err
	}
	if init.DataType != DataTypeFloat {
		return Initializer{}, fmt.Errorf("%q: unsupported data type %s", init.Name, init.DataType)
	}
	if raw != nil {
		if init.Data, err = float32s(nil, field{num: tensorRawData, typ: protowire.BytesType, bytes: raw}); err != nil {
			return Initializer{}, err
		}
	}
	if want := Elements(init.Dims); want != len(init.Data) {
		return Initializer{}, fmt.Errorf("%q: dims %v hold %d values, got %d", init.Name, init.Dims, want, len(init.Data))
	}
	return init, nil
}

func decodeValueInfo(b []byte) (TensorInfo, error) {
	var info TensorInfo
	err := walk(b, func(f field) error {
		switch f.num {
		case valueInfoName:
			info.Name = string(f.bytes)
		case valueInfoType:
			return walk(f.bytes, func(f field) error {
				if f.num != typeTensor {
					return nil
				}
				return decodeTensorType(f.bytes, &info)
			})
		}
		return nil
	})
	if err != nil {
		return TensorInfo{}, fmt.Errorf("%q: %w", info.Name, err)
	}
	return info, nil
}

func decodeTensorType(b []byte, info *TensorInfo) error {
	return walk(b, func(f field) error {
		switch f.num {
		case tensorTypeElem:
			info.DataType = DataType(f.u64)
		case tensorTypeShape:
			info.Shape = info.Shape[:0]
			return walk(f.bytes, func(f field) error {
				if f.num != shapeDim {
					return nil
				}
				dim := int64(-1)
				err := walk(f.bytes, func(f field) error {
					if f.num == dimValue {
						dim = int64(f.u64)
					}
					return nil
				})
				info.Shape = append(info.Shape, dim)
				return err
			})
		}
		return nil
	})
}
