package gpucore

import "errors"

// Errors returned by Context implementations.
var (
	// ErrLinkFailed is returned when a program cannot be compiled or linked.
	ErrLinkFailed = errors.New("gpucore: program link failed")

	// ErrReadbackPending is returned by MapRead when the copy that fills
	// the buffer has not completed yet.
	ErrReadbackPending = errors.New("gpucore: readback still in flight")

	// ErrUnknownTexture is returned when a TextureID does not name a live texture.
	ErrUnknownTexture = errors.New("gpucore: unknown texture")

	// ErrUnknownProgram is returned when a ProgramID does not name a live program.
	ErrUnknownProgram = errors.New("gpucore: unknown program")

	// ErrUnknownBuffer is returned when a BufferID does not name a live buffer.
	ErrUnknownBuffer = errors.New("gpucore: unknown buffer")

	// ErrContextDestroyed is returned by any call on a destroyed context.
	ErrContextDestroyed = errors.New("gpucore: context destroyed")

	// ErrInvalidSize is returned for zero or negative dimensions.
	ErrInvalidSize = errors.New("gpucore: invalid size")
)

// Context abstracts over different GPU backend implementations.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - IDs become invalid after destruction and are never reused
//
// A Context is not safe for concurrent use. It belongs to the goroutine
// that created it (or received it from Share), and that goroutine must be
// locked to its OS thread.
type Context interface {
	// Name returns the backend name.
	Name() string

	// === Sharing ===

	// Share creates a secondary context whose textures, programs and
	// buffers are the same objects as this context's.
	Share() (Context, error)

	// === Textures ===

	// CreateTexture creates a texture usable as a sampled input and as a
	// render target.
	CreateTexture(desc *TextureDescriptor) (TextureID, error)

	// WriteTexture uploads pixels into a texture. bytesPerRow may exceed
	// the tight row size when the source rows are padded.
	WriteTexture(id TextureID, pixels []byte, bytesPerRow int) error

	// DestroyTexture releases a texture. Unknown IDs are ignored.
	DestroyTexture(id TextureID)

	// === Programs ===

	// CreateProgram compiles and links a vertex/fragment program.
	// Returns an error wrapping ErrLinkFailed on failure.
	CreateProgram(desc *ProgramDescriptor) (ProgramID, error)

	// DestroyProgram releases a program. Unknown IDs are ignored.
	DestroyProgram(id ProgramID)

	// === Drawing ===

	// Draw records and submits one quad draw.
	Draw(call *DrawCall) error

	// ResizeDisplay sets the display surface size.
	ResizeDisplay(width, height int) error

	// Present swaps the display surface.
	Present() error

	// === Readback ===

	// RowAlignment returns the byte alignment of readback rows.
	RowAlignment() int

	// CreateReadbackBuffer allocates a CPU-visible buffer of size bytes.
	CreateReadbackBuffer(size int) (BufferID, error)

	// DestroyBuffer releases a readback buffer. Unknown IDs are ignored.
	DestroyBuffer(id BufferID)

	// ReadPixelsAsync issues a copy from src into dst without waiting
	// for it to complete.
	ReadPixelsAsync(src TextureID, dst BufferID, layout ReadbackLayout) error

	// MapRead maps a buffer whose copy has completed. The returned slice
	// is valid until Unmap.
	MapRead(id BufferID) ([]byte, error)

	// Unmap releases a mapping made by MapRead.
	Unmap(id BufferID)

	// === Lifetime ===

	// Stats reports the live objects of the share group.
	Stats() Stats

	// Destroy releases the context. Objects of the share group are
	// released together with the last context.
	Destroy()
}

// Factory creates a primary context.
type Factory func() (Context, error)
