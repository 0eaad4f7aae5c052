// ABOUTME: Renderer package
// ABOUTME: Schedules per-stream frames against a timing controller
// Package renderer paces one stream's frames to their presentation deadlines.
//
// Each Renderer runs a single goroutine that owns its frame queue, its
// timing.Controller and one timer. Frames are handed to a Presenter when
// their deadline arrives; presenters that need more time report it through
// Result.TimeLeft and the renderer soft-syncs its timeline to match.
//
// Example:
//
//	r, err := renderer.New(renderer.Config{
//		Stream:    media.StreamVideo,
//		Presenter: sink,
//		OnFrameProcessed: func(f media.Frame) { release(f) },
//	})
//	if err != nil {
//		return err
//	}
//	r.Start()
//	defer r.Close()
//
//	r.Render(frame)
package renderer
