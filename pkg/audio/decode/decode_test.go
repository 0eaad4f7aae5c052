// ABOUTME: Tests for audio decoders
// ABOUTME: Tests PCM decoding, Opus round trips and the codec factory
package decode

import (
	"testing"

	"github.com/Sendspin/sendspin-avsync/pkg/audio"
	"github.com/Sendspin/sendspin-avsync/pkg/audio/encode"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		format  audio.Format
		wantErr bool
	}{
		{"pcm16", audio.Format{Codec: audio.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}, false},
		{"pcm24", audio.Format{Codec: audio.CodecPCM, SampleRate: 192000, Channels: 2, BitDepth: 24}, false},
		{"opus", audio.Format{Codec: audio.CodecOpus, SampleRate: 48000, Channels: 1, BitDepth: 16}, false},
		{"opus bad rate", audio.Format{Codec: audio.CodecOpus, SampleRate: 44100, Channels: 2, BitDepth: 16}, true},
		{"pcm32", audio.Format{Codec: audio.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 32}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoder, err := New(tt.format)
			if tt.wantErr {
				if err == nil || decoder != nil {
					t.Fatalf("expected error and nil decoder, got %v, %v", decoder, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := decoder.Close(); err != nil {
				t.Errorf("Close() failed: %v", err)
			}
		})
	}
}

func TestPCMDecode(t *testing.T) {
	tests := []struct {
		name     string
		bitDepth int
		input    []byte
		want     []int32
	}{
		{"16-bit", 16, []byte{0x00, 0x01, 0x02, 0x03}, []int32{256 << 8, 770 << 8}},
		{"16-bit trailing byte", 16, []byte{0x00, 0x01, 0x02}, []int32{256 << 8}},
		{"24-bit", 24, []byte{0x00, 0x01, 0x02, 0xFF, 0xFF, 0xFF}, []int32{0x020100, -1}},
		{"empty", 16, []byte{}, []int32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoder, err := NewPCM(audio.Format{Codec: audio.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: tt.bitDepth})
			if err != nil {
				t.Fatal(err)
			}
			got, err := decoder.Decode(tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d samples, got %d", len(tt.want), len(got))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d: expected %d, got %d", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestPCMRoundTrip(t *testing.T) {
	format := audio.Format{Codec: audio.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 24}
	enc, _ := encode.New(format)
	dec, _ := New(format)

	samples := []int32{0, 100000, -100000, audio.Max24Bit, audio.Min24Bit}
	data, err := enc.Encode(samples)
	if err != nil {
		t.Fatal(err)
	}
	got, err := dec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestOpusRoundTrip(t *testing.T) {
	format := audio.Format{Codec: audio.CodecOpus, SampleRate: 48000, Channels: 2, BitDepth: 16}
	enc, err := encode.New(format)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := New(format)
	if err != nil {
		t.Fatal(err)
	}

	packet, err := enc.Encode(make([]int32, 960*2))
	if err != nil {
		t.Fatal(err)
	}
	samples, err := dec.Decode(packet)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 960*2 {
		t.Errorf("expected one 20ms frame, got %d samples", len(samples))
	}

	if _, err := dec.Decode([]byte{0xFF}); err == nil {
		t.Error("expected error for garbage packet")
	}
}
