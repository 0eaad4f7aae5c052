// ABOUTME: Video presentation package
// ABOUTME: Provides the Sink presenter for timestamped video frames
// Package video presents video frames against the shared media clock.
//
// The sink does not decode or draw; it hands each due frame to a Display
// callback and measures how late it was.
//
// Example:
//
//	sink := video.NewSink(video.SinkConfig{
//		Display: func(f media.Frame) { draw(f.Data) },
//	})
package video
