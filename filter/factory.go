package filter

import (
	"github.com/gogpu/camrec/gpucore"
	"github.com/gogpu/camrec/internal/logging"
)

// New builds the user filter stage for a filter type. Types without a
// kernel, TypeNone and unknown values build an identity stage.
func New(ctx gpucore.Context, t Type) Stage {
	switch t {
	case TypeBeauty, TypeBeautyOptimization:
		return NewColorMatrix(ctx, Beauty())
	case TypeSketch:
		return NewColorMatrix(ctx, Contrast(1.4).Mul(Grayscale()))
	case TypeSepia:
		return NewColorMatrix(ctx, Sepia())
	case TypeInvert:
		return NewColorMatrix(ctx, Invert())
	case TypeMirror:
		return NewMirror(ctx)
	}
	if t != TypeNone {
		logging.Logger().Debug("filter: no kernel for type, using identity", "type", t.String())
	}
	return NewIdentity(ctx)
}
