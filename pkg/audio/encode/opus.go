// ABOUTME: Opus audio encoder
// ABOUTME: Encodes 20ms frames of int32 samples to Opus packets
package encode

import (
	"fmt"
	"time"

	"gopkg.in/hraban/opus.v2"

	"github.com/Sendspin/sendspin-avsync/pkg/audio"
)

// maxOpusPacket bounds an encoded packet
const maxOpusPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder   *opus.Encoder
	channels  int
	frameSize int // Interleaved samples per 20ms frame
	pcm       []int16
	packet    []byte
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	frameSize := format.FrameSamples(20 * time.Millisecond)
	return &OpusEncoder{
		encoder:   encoder,
		channels:  format.Channels,
		frameSize: frameSize,
		pcm:       make([]int16, frameSize),
		packet:    make([]byte, maxOpusPacket),
	}, nil
}

// Encode converts one frame of samples to an Opus packet. Frames shorter
// than 20ms are padded with silence.
func (e *OpusEncoder) Encode(samples []int32) ([]byte, error) {
	if len(samples) > e.frameSize {
		return nil, fmt.Errorf("opus frame too long: %d samples (max %d)", len(samples), e.frameSize)
	}

	for i := range e.pcm {
		if i < len(samples) {
			e.pcm[i] = audio.SampleToInt16(samples[i])
		} else {
			e.pcm[i] = 0
		}
	}

	n, err := e.encoder.Encode(e.pcm, e.packet)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	out := make([]byte, n)
	copy(out, e.packet[:n])
	return out, nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
