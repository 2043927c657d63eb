//go:build nogst

package main

import (
	"log"

	"github.com/gogpu/camrec/capture"
	"github.com/gogpu/camrec/encoder"
)

func newSource(desc string, opts ...capture.Option) capture.Source {
	if desc != "" {
		log.Printf("built without GStreamer, ignoring source %q", desc)
	}
	return capture.NewSynthetic(opts...)
}

func newEncoder(output string) encoder.Service {
	log.Printf("built without GStreamer, %s will not be written", output)
	return encoder.NewMemory()
}
