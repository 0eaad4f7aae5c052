// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts audio between sample rates and playback speeds
// Package resample provides audio sample rate conversion.
//
// The audio presenter uses it to play frames faster or slower than real
// time: a rate of 2.0 is a conversion from 2x the device rate down to the
// device rate. State carries across calls so streamed frames join without
// clicks.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out := make([]int32, r.OutputSamplesNeeded(len(in)))
//	n := r.Resample(in, out)
package resample
