// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format and sample conversion functions
// Package audio defines the audio formats exchanged between sources, codecs
// and outputs.
//
// Samples are int32 values in 24-bit range regardless of the wire bit depth;
// the helpers here convert to and from 16-bit and packed 24-bit forms.
//
// Example:
//
//	format, err := audio.ParseFormat("pcm24", 96000, 2)
//	if err != nil {
//		return err
//	}
//	samples := make([]int32, format.FrameSamples(20*time.Millisecond))
package audio
