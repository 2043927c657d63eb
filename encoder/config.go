package encoder

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidConfig is returned for a configuration that cannot be encoded.
var ErrInvalidConfig = errors.New("encoder: invalid config")

// Parameter keys understood by SetConfigParams.
const (
	KeyWidth      = "width"
	KeyHeight     = "height"
	KeyBitrate    = "bit_rate"
	KeyFPS        = "fps"
	KeyGOPSize    = "gop_size"
	KeyCRF        = "crf"
	KeyMultiple   = "multiple"
	KeyMaxBFrames = "max_b_frames"
	KeyCFR        = "CFR"
	KeyOutput     = "output_filename"
	KeyPreset     = "preset"
	KeyTune       = "tune"
)

// Defaults used by DefaultConfig.
const (
	DefaultGOPSeconds = 0.5
	DefaultPreset     = "veryfast"
	DefaultTune       = "zerolatency"
	DefaultCRF        = 23
	DefaultMultiple   = 1000
)

// Config is the configuration of one recording. It is a value type and is
// copied into the service.
type Config struct {
	Width, Height int
	// Bitrate in bit/s.
	Bitrate    int
	FPS        int
	GOPSeconds float64
	MaxBFrames int
	CFR        bool
	Output     string
	Preset     string
	Tune       string
	CRF        int
	// Multiple divides Bitrate for encoders taking kbit/s.
	Multiple int
}

// GOPSize returns the keyframe interval in frames.
func (c Config) GOPSize() int { return int(c.GOPSeconds * float64(c.FPS)) }

// Validate reports whether the config can be encoded.
func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	case c.Width%2 != 0 || c.Height%2 != 0:
		return fmt.Errorf("%w: size %dx%d is not even", ErrInvalidConfig, c.Width, c.Height)
	case c.FPS <= 0:
		return fmt.Errorf("%w: fps %d", ErrInvalidConfig, c.FPS)
	case c.Bitrate <= 0:
		return fmt.Errorf("%w: bitrate %d", ErrInvalidConfig, c.Bitrate)
	case c.GOPSize() <= 0:
		return fmt.Errorf("%w: gop %.2fs at %d fps", ErrInvalidConfig, c.GOPSeconds, c.FPS)
	case c.MaxBFrames < 0:
		return fmt.Errorf("%w: max b-frames %d", ErrInvalidConfig, c.MaxBFrames)
	case c.CRF < 0 || c.CRF > 51:
		return fmt.Errorf("%w: crf %d", ErrInvalidConfig, c.CRF)
	case c.Multiple <= 0:
		return fmt.Errorf("%w: multiple %d", ErrInvalidConfig, c.Multiple)
	}
	return nil
}

// Params is the key/value form of a Config handed to a Service.
type Params map[string]string

// Params returns the key/value form of c.
func (c Config) Params() Params {
	return Params{
		KeyWidth:      strconv.Itoa(c.Width),
		KeyHeight:     strconv.Itoa(c.Height),
		KeyBitrate:    strconv.Itoa(c.Bitrate),
		KeyFPS:        strconv.Itoa(c.FPS),
		KeyGOPSize:    strconv.Itoa(c.GOPSize()),
		KeyCRF:        strconv.Itoa(c.CRF),
		KeyMultiple:   strconv.Itoa(c.Multiple),
		KeyMaxBFrames: strconv.Itoa(c.MaxBFrames),
		KeyCFR:        strconv.FormatBool(c.CFR),
		KeyOutput:     c.Output,
		KeyPreset:     c.Preset,
		KeyTune:       c.Tune,
	}
}

// ParseParams rebuilds a Config from its key/value form and validates it.
// The GOP duration is recovered from gop_size and fps.
func ParseParams(p Params) (Config, error) {
	var c Config
	ints := []struct {
		key string
		dst *int
	}{
		{KeyWidth, &c.Width},
		{KeyHeight, &c.Height},
		{KeyBitrate, &c.Bitrate},
		{KeyFPS, &c.FPS},
		{KeyCRF, &c.CRF},
		{KeyMultiple, &c.Multiple},
		{KeyMaxBFrames, &c.MaxBFrames},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(p[f.key])
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, f.key, p[f.key])
		}
		*f.dst = v
	}
	gop, err := strconv.Atoi(p[KeyGOPSize])
	if err != nil || c.FPS <= 0 {
		return Config{}, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, KeyGOPSize, p[KeyGOPSize])
	}
	c.GOPSeconds = float64(gop) / float64(c.FPS)
	if s, ok := p[KeyCFR]; ok && s != "" {
		if c.CFR, err = strconv.ParseBool(s); err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, KeyCFR, s)
		}
	}
	c.Output = p[KeyOutput]
	c.Preset = p[KeyPreset]
	c.Tune = p[KeyTune]
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// BitratePolicy scales a base bitrate with the frame area.
type BitratePolicy struct {
	Base           int
	BaselineWidth  int
	BaselineHeight int
}

// DefaultBitratePolicy gives 700 kbit/s at 960x540.
var DefaultBitratePolicy = BitratePolicy{Base: 700000, BaselineWidth: 960, BaselineHeight: 540}

// Bitrate returns the bitrate for a width x height frame.
func (p BitratePolicy) Bitrate(width, height int) int {
	area := int64(p.BaselineWidth) * int64(p.BaselineHeight)
	if area <= 0 {
		return p.Base
	}
	return int(int64(p.Base) * int64(width) * int64(height) / area)
}

// Config returns the recording config for a preview of width x height at
// fps frames per second. For orientation 90 and 270 the recorded frame is
// the preview transposed.
func (p BitratePolicy) Config(width, height, fps, orientation int) Config {
	if orientation%180 != 0 {
		width, height = height, width
	}
	return Config{
		Width:      width,
		Height:     height,
		Bitrate:    p.Bitrate(width, height),
		FPS:        fps,
		GOPSeconds: DefaultGOPSeconds,
		Preset:     DefaultPreset,
		Tune:       DefaultTune,
		CRF:        DefaultCRF,
		Multiple:   DefaultMultiple,
	}
}

// DefaultConfig is DefaultBitratePolicy.Config.
func DefaultConfig(width, height, fps, orientation int) Config {
	return DefaultBitratePolicy.Config(width, height, fps, orientation)
}
