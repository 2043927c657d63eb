// Package encoder is the boundary between the recording bridge and a video
// encoder.
//
// A Service is negotiated in three steps: SetConfigParams with the
// key/value parameters of a Config, PrepareAsync which reports
// EventPrepared through the listener, and Start which reports
// EventStarted. Put then accepts downloaded frames until Stop.
//
// Two services are provided. NewGstEncoder feeds frames into a GStreamer
// pipeline (appsrc ! videoconvert ! x264enc ! mp4mux ! filesink). NewMemory
// keeps every frame in memory and is used by tests and dry runs.
package encoder
