// ABOUTME: Decoder interface definition
// ABOUTME: Common interface and factory for wire audio decoders
package decode

import (
	"fmt"

	"github.com/Sendspin/sendspin-avsync/pkg/audio"
)

// Decoder decodes wire audio to PCM int32 samples in 24-bit range
type Decoder interface {
	// Decode converts encoded audio data to interleaved PCM samples
	Decode(data []byte) ([]int32, error)

	// Close releases decoder resources
	Close() error
}

// New returns the decoder for format's codec
func New(format audio.Format) (Decoder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("no decoder for codec: %s", format.Codec)
	}
}
