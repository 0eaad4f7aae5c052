// ABOUTME: Presentation backend contract for renderers
// ABOUTME: Backends present a frame and report how long it still needs
package renderer

import (
	"time"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

// Result is what a presenter reports after handling a frame
type Result struct {
	// TimeLeft is how much longer the frame needs before it is fully
	// consumed. Zero or negative means the frame is done and can be dequeued.
	TimeLeft time.Duration
}

// Presenter presents frames on an output (audio device, video surface).
//
// RenderInternal is always called from the renderer's own goroutine and may
// be called again with the same frame while TimeLeft stays positive.
type Presenter interface {
	RenderInternal(frame media.Frame) Result
}

// PresenterFunc adapts a function to the Presenter interface
type PresenterFunc func(frame media.Frame) Result

// RenderInternal calls f(frame)
func (f PresenterFunc) RenderInternal(frame media.Frame) Result {
	return f(frame)
}
