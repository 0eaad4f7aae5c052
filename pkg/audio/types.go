// ABOUTME: Audio format definitions and sample conversions
// ABOUTME: Samples travel as int32 in 24-bit range between sources, codecs and outputs
package audio

import (
	"fmt"
	"strings"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Codec names used on the wire
const (
	CodecPCM  = "pcm"
	CodecOpus = "opus"
)

// Format describes an audio stream format
type Format struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// ParseFormat builds a format from a codec name such as "pcm16", "pcm24" or "opus"
func ParseFormat(name string, sampleRate, channels int) (Format, error) {
	f := Format{SampleRate: sampleRate, Channels: channels}
	switch strings.ToLower(name) {
	case "pcm", "pcm16":
		f.Codec, f.BitDepth = CodecPCM, 16
	case "pcm24":
		f.Codec, f.BitDepth = CodecPCM, 24
	case "opus":
		f.Codec, f.BitDepth = CodecOpus, 16
	default:
		return Format{}, fmt.Errorf("unknown audio codec: %s", name)
	}
	return f, f.Validate()
}

// Validate checks the format can be encoded and decoded
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	switch f.Codec {
	case CodecPCM:
		if f.BitDepth != 16 && f.BitDepth != 24 {
			return fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", f.BitDepth)
		}
	case CodecOpus:
		switch f.SampleRate {
		case 8000, 12000, 16000, 24000, 48000:
		default:
			return fmt.Errorf("opus does not support %dHz", f.SampleRate)
		}
	default:
		return fmt.Errorf("unknown audio codec: %s", f.Codec)
	}
	return nil
}

// FrameSamples returns the interleaved sample count covering d
func (f Format) FrameSamples(d time.Duration) int {
	return int(int64(f.SampleRate)*int64(d)/int64(time.Second)) * f.Channels
}

// Duration returns the playing time of n interleaved samples
func (f Format) Duration(n int) time.Duration {
	return time.Duration(n/f.Channels) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	if f.Codec == CodecPCM {
		return fmt.Sprintf("pcm%d %dHz %dch", f.BitDepth, f.SampleRate, f.Channels)
	}
	return fmt.Sprintf("%s %dHz %dch", f.Codec, f.SampleRate, f.Channels)
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
