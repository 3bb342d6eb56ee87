package model

import _ "embed"

// Names of the default model's graph signature.
const (
	FootstepInput  = "audio"
	FootstepOutput = "probability"
)

// Default model parameters: probability = sigmoid(gain*mean(|x|) + bias).
const (
	footstepGain float32 = 12
	footstepBias float32 = -2
)

//go:embed data/footstep.onnx
var footstepONNX []byte

// Embedded returns the default footstep model compiled into the binary.
func Embedded() []byte {
	return footstepONNX
}

// FootstepGraph describes the default footstep model for an input frame of
// frameSize samples. The embedded artifact is FootstepGraph(160).Bytes(),
// written by cmd/genmodel.
//
// The model scores impulsive energy: the mean absolute amplitude of the frame
// goes through an affine map and a sigmoid, so silence sits near 0.12 and a
// frame averaging a quarter of full scale scores about 0.73.
func FootstepGraph(frameSize int64) *Builder {
	return NewBuilder("footstep").
		AddInput(FootstepInput, DataTypeFloat, 1, frameSize).
		AddOutput(FootstepOutput, DataTypeFloat, 1, 1).
		AddInitializer("gain", []int64{1}, []float32{footstepGain}).
		AddInitializer("bias", []int64{1}, []float32{footstepBias}).
		AddNode("Abs", []string{FootstepInput}, []string{"magnitude"}).
		AddNode("ReduceMean", []string{"magnitude"}, []string{"energy"},
			IntsAttr("axes", 1), IntAttr("keepdims", 1)).
		AddNode("Mul", []string{"energy", "gain"}, []string{"scaled"}).
		AddNode("Add", []string{"scaled", "bias"}, []string{"logit"}).
		AddNode("Sigmoid", []string{"logit"}, []string{FootstepOutput})
}
