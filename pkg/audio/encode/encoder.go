// ABOUTME: Encoder interface definition
// ABOUTME: Common interface and factory for wire audio encoders
package encode

import (
	"fmt"

	"github.com/Sendspin/sendspin-avsync/pkg/audio"
)

// Encoder encodes PCM int32 samples to a wire format
type Encoder interface {
	// Encode converts interleaved PCM samples to encoded audio data
	Encode(samples []int32) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// New returns the encoder for format's codec
func New(format audio.Format) (Encoder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("no encoder for codec: %s", format.Codec)
	}
}
