// ABOUTME: Opus audio decoder
// ABOUTME: Decodes Opus packets to int32 samples
package decode

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/Sendspin/sendspin-avsync/pkg/audio"
)

// maxOpusFrame is the largest Opus frame in samples per channel (120ms at 48kHz)
const maxOpusFrame = 5760

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder  *opus.Decoder
	channels int
	pcm16    []int16
}

// NewOpus creates a new Opus decoder
func NewOpus(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder:  dec,
		channels: format.Channels,
		pcm16:    make([]int16, maxOpusFrame*format.Channels),
	}, nil
}

// Decode converts an Opus packet to int32 samples
func (d *OpusDecoder) Decode(data []byte) ([]int32, error) {
	n, err := d.decoder.Decode(data, d.pcm16)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	pcm32 := make([]int32, n*d.channels)
	for i := range pcm32 {
		pcm32[i] = audio.SampleFromInt16(d.pcm16[i])
	}
	return pcm32, nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
