// ABOUTME: Clock coordination package
// ABOUTME: Master election and media-time extrapolation shared by all streams
// Package clock keeps independently rendered streams on one media timeline.
//
// A Controller extrapolates media time from the wall clock, scaled by the
// playback rate and frozen while paused. Each stream owns a Clock registered
// with the controller; the highest-ranked clock (an audio device outranks the
// system clock) is the master and its measured positions re-anchor the
// timeline. Slave clocks only read the authoritative time back.
//
// Example:
//
//	ctrl := clock.NewController(clock.Config{
//	    OnMasterTime: func(t int64) { log.Printf("master at %dµs", t) },
//	})
//	audio := clock.NewClock(ctrl, clock.AudioClock, nil)
//	video := clock.NewClock(ctrl, clock.SystemClock, nil)
//	defer ctrl.Close()
//	defer audio.Close()
//	defer video.Close()
//
//	audio.TimeUpdated(1000000)   // adopted: audio is master
//	video.TimeUpdated(900000)    // ignored: returns the master timeline
package clock
