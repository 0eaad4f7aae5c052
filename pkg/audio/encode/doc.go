// ABOUTME: Audio encoder package for wire codecs
// ABOUTME: Provides the Encoder interface with PCM and Opus implementations
// Package encode prepares PCM samples for sending over a feed.
//
// All encoders accept int32 samples in 24-bit range.
//
// Example:
//
//	encoder, err := encode.New(format)
//	payload, err := encoder.Encode(frame.Samples)
package encode
