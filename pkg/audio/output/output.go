// ABOUTME: Audio output interface definition
// ABOUTME: Common non-blocking interface for audio playback backends
package output

// Output represents an audio output device fed through a sample buffer.
//
// Write never blocks: it accepts as many samples as fit and reports the
// count, so callers can pace themselves on Free and Buffered.
type Output interface {
	// Open initializes the output device
	Open(sampleRate, channels int) error

	// Write queues interleaved 24-bit samples and returns how many were accepted
	Write(samples []int32) int

	// Free returns how many samples can be written without overflowing
	Free() int

	// Buffered returns how many written samples have not been played yet
	Buffered() int

	// Flush drops every buffered sample
	Flush()

	// SetPaused stops or resumes draining the buffer
	SetPaused(paused bool)

	// Close releases output resources
	Close() error
}
