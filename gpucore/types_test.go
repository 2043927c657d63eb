package gpucore

import "testing"

func TestAlignedRowBytes(t *testing.T) {
	tests := []struct {
		name  string
		width int
		bpp   int
		align int
		want  int
	}{
		{"tight", 64, 4, 8, 256},
		{"pad to 8", 3, 4, 8, 16},
		{"pad to 256", 100, 4, 256, 512},
		{"exact 256", 64, 4, 256, 256},
		{"no alignment", 7, 4, 1, 28},
		{"zero alignment", 7, 4, 0, 28},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AlignedRowBytes(tt.width, tt.bpp, tt.align); got != tt.want {
				t.Errorf("AlignedRowBytes(%d, %d, %d) = %d, want %d",
					tt.width, tt.bpp, tt.align, got, tt.want)
			}
		})
	}
}

func TestTextureFormatBytesPerPixel(t *testing.T) {
	if got := TextureFormatRGBA8Unorm.BytesPerPixel(); got != 4 {
		t.Errorf("RGBA8Unorm.BytesPerPixel() = %d, want 4", got)
	}
	if got := TextureFormatBGRA8Unorm.BytesPerPixel(); got != 4 {
		t.Errorf("BGRA8Unorm.BytesPerPixel() = %d, want 4", got)
	}
	if got := TextureFormat(0).BytesPerPixel(); got != 0 {
		t.Errorf("TextureFormat(0).BytesPerPixel() = %d, want 0", got)
	}
}

func TestStatsLive(t *testing.T) {
	if (Stats{Contexts: 2}).Live() {
		t.Error("Stats with only contexts reported live objects")
	}
	if !(Stats{Buffers: 1}).Live() {
		t.Error("Stats with a buffer reported no live objects")
	}
}

func TestProgramKindString(t *testing.T) {
	if got := ProgramPIP.String(); got != "pip" {
		t.Errorf("ProgramPIP.String() = %q, want %q", got, "pip")
	}
	if got := ProgramKind(99).String(); got != "ProgramKind(99)" {
		t.Errorf("ProgramKind(99).String() = %q", got)
	}
}
