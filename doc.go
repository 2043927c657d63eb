// Package camrec is a camera preview and recording engine.
//
// # Overview
//
// Frames from a capture source are composited on the GPU by a fixed
// filter graph (capture, rotation, picture-in-picture, user filter,
// overlay, display) on a dedicated render goroutine. While recording, the
// composite of every drawn frame is read back asynchronously by a second
// goroutine and handed to a video encoder, without stalling the display.
//
// # Quick Start
//
//	eng, err := camrec.New(camrec.WithBackend("software"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Release()
//
//	go func() {
//	    for ev := range eng.Events() {
//	        log.Println(ev.Kind)
//	    }
//	}()
//
//	eng.SurfaceCreated(1280, 720)
//	eng.OpenPreview(ctx, capture.NewSynthetic(capture.WithSize(1280, 720)))
//	eng.StartRecording(ctx, eng.RecordingConfig(30))
//
// # Lifecycle
//
// An Engine is Idle, PreviewOnly or Recording. Transitions are serialized.
// A capture source that is lost or an encoder that fails moves the engine
// back to Idle and emits an error event.
//
// # Packages
//
//   - gpucore: the GPU context interface and handles
//   - backend: backend registry, with software and wgpu implementations
//   - filter: stages and the filter graph
//   - ingest: the capture surface shared by the capture and render goroutines
//   - render: the render scheduler
//   - recording: the GPU to encoder bridge
//   - encoder: encoder services
//   - capture: frame sources
package camrec
