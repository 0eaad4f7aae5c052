// ABOUTME: Renderer timing package
// ABOUTME: Converts frame timestamps to wall-clock deadlines
// Package timing maps media positions to wall-clock deadlines for a single
// renderer, honoring playback rate and pause. Soft syncs re-anchor the mapping
// to absorb drift without resetting the shared clock tree.
//
// Example:
//
//	tc := timing.NewController(0, nil)
//	deadline := tc.TimeFromPosition(frame.Pts)
//	time.Sleep(time.Until(deadline))
package timing
