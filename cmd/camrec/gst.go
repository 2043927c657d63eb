//go:build !nogst

package main

import (
	"github.com/gogpu/camrec/capture"
	"github.com/gogpu/camrec/encoder"
)

func newSource(desc string, opts ...capture.Option) capture.Source {
	if desc == "" {
		return capture.NewSynthetic(opts...)
	}
	return capture.NewGstSource(desc, opts...)
}

func newEncoder(string) encoder.Service {
	return encoder.NewGstEncoder()
}
