// Package backend provides a registry of GPU context backends.
//
// Backends are registered via init() functions and selected at runtime.
// Import a backend package for its side effect to make it available:
//
//	import _ "github.com/gogpu/camrec/backend/software"
//	import _ "github.com/gogpu/camrec/backend/wgpu"
//
// # Backend Selection
//
// Use Default to get the best available backend factory, or Get to request
// a specific backend by name:
//
//	// Get the default (best available) backend
//	f := backend.Default()
//
//	// Or request a specific backend
//	f := backend.Get(backend.NameSoftware)
//
//	ctx, err := f()
//
// Priority order: wgpu > software.
package backend
