// ABOUTME: Media frame package
// ABOUTME: Defines the Frame value passed from sources to renderers
// Package media defines the timestamped Frame that flows from a source,
// through a renderer queue, to a presenter.
//
// Example:
//
//	f := media.NewFrame(media.StreamAudio, 0, 20000) // 20ms at t=0
//	f = f.WithLoop(media.LoopOffset{Pos: 5000000, Index: 1})
package media
