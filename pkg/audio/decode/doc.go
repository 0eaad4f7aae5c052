// ABOUTME: Audio decoder package for wire codecs
// ABOUTME: Provides the Decoder interface with PCM and Opus implementations
// Package decode turns audio received from a feed back into PCM samples.
//
// All decoders output int32 samples in 24-bit range.
//
// Example:
//
//	decoder, err := decode.New(format)
//	samples, err := decoder.Decode(payload)
package decode
