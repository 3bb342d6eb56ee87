// Command genmodel writes the default footstep model artifact.
//
//	go run ./cmd/genmodel -out pkg/model/data/footstep.onnx
package main

import (
	"flag"
	"log"
	"os"

	"github.com/realtime-ai/footstep/pkg/frame"
	"github.com/realtime-ai/footstep/pkg/model"
)

func main() {
	out := flag.String("out", "pkg/model/data/footstep.onnx", "output path")
	flag.Parse()

	data := model.FootstepGraph(frame.Size).Bytes()

	art, err := model.Load(data)
	if err != nil {
		log.Fatalf("Generated model does not decode: %v", err)
	}

	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("Failed to write model: %v", err)
	}
	log.Printf("Wrote %s (%d bytes): %s", *out, len(data), art)
}
