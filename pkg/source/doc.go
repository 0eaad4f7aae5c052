// ABOUTME: Frame sources package
// ABOUTME: Test generators and file decoders producing timestamped frames
// Package source produces timestamped media frames for a playback session.
//
// PCM sources emit 20ms frames of interleaved 24-bit samples stored in int32.
// Every source is seekable so a session can restart it at any position or
// loop it from the beginning.
package source
