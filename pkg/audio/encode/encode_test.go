// ABOUTME: Unit tests for audio encoders
// ABOUTME: Tests PCM and Opus encoding and the codec factory
package encode

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/Sendspin/sendspin-avsync/pkg/audio"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		format      audio.Format
		wantErr     bool
		errContains string
	}{
		{"pcm16", audio.Format{Codec: audio.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}, false, ""},
		{"pcm24", audio.Format{Codec: audio.CodecPCM, SampleRate: 96000, Channels: 2, BitDepth: 24}, false, ""},
		{"opus stereo", audio.Format{Codec: audio.CodecOpus, SampleRate: 48000, Channels: 2, BitDepth: 16}, false, ""},
		{"opus mono", audio.Format{Codec: audio.CodecOpus, SampleRate: 48000, Channels: 1, BitDepth: 16}, false, ""},
		{"unsupported bit depth", audio.Format{Codec: audio.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 32}, true, "unsupported bit depth"},
		{"unknown codec", audio.Format{Codec: "aac", SampleRate: 48000, Channels: 2}, true, "unknown audio codec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := New(tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			encoder.Close()
		})
	}
}

func TestCodecMismatch(t *testing.T) {
	if _, err := NewPCM(audio.Format{Codec: audio.CodecOpus, BitDepth: 16}); err == nil {
		t.Error("expected PCM encoder to reject opus format")
	}
	if _, err := NewOpus(audio.Format{Codec: audio.CodecPCM, SampleRate: 48000, Channels: 2}); err == nil {
		t.Error("expected Opus encoder to reject pcm format")
	}
}

func TestPCMEncode16Bit(t *testing.T) {
	encoder, err := NewPCM(audio.Format{Codec: audio.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatal(err)
	}

	output, err := encoder.Encode([]int32{256 << 8, -1 << 8})
	if err != nil {
		t.Fatal(err)
	}
	if len(output) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(output))
	}
	if v := int16(binary.LittleEndian.Uint16(output[0:])); v != 256 {
		t.Errorf("expected 256, got %d", v)
	}
	if v := int16(binary.LittleEndian.Uint16(output[2:])); v != -1 {
		t.Errorf("expected -1, got %d", v)
	}
}

func TestPCMEncode24Bit(t *testing.T) {
	encoder, err := NewPCM(audio.Format{Codec: audio.CodecPCM, SampleRate: 96000, Channels: 2, BitDepth: 24})
	if err != nil {
		t.Fatal(err)
	}

	output, err := encoder.Encode([]int32{0x123456, -1})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x56, 0x34, 0x12, 0xFF, 0xFF, 0xFF}
	if string(output) != string(want) {
		t.Errorf("expected % x, got % x", want, output)
	}
}

func TestOpusEncode(t *testing.T) {
	format := audio.Format{Codec: audio.CodecOpus, SampleRate: 48000, Channels: 2, BitDepth: 16}
	encoder, err := NewOpus(format)
	if err != nil {
		t.Fatal(err)
	}
	defer encoder.Close()

	samples := make([]int32, 960*2)
	for i := range samples {
		samples[i] = int32((i % 1000) * 8388)
	}

	tests := []struct {
		name    string
		samples []int32
		wantErr bool
	}{
		{"full frame", samples, false},
		{"silence", make([]int32, 960*2), false},
		{"short frame padded", samples[:400], false},
		{"too long", make([]int32, 961*2), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := encoder.Encode(tt.samples)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode() failed: %v", err)
			}
			if len(output) == 0 || len(output) > maxOpusPacket {
				t.Errorf("unexpected packet size %d", len(output))
			}
		})
	}
}
