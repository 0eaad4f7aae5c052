// ABOUTME: Binary media frame encoding for the feed websocket
// ABOUTME: Fixed big-endian header with timing and loop offset followed by the payload
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

// Binary frame kinds
const (
	KindAudio       byte = 0x01
	KindVideo       byte = 0x02
	KindEndOfStream byte = 0xFF
)

// HeaderSize is kind(1) + pts(8) + end(8) + loop index(4) + loop position(8)
const HeaderSize = 1 + 8 + 8 + 4 + 8

// BinaryFrame is one media frame on the wire. An end-of-stream frame carries
// the stream type it ends as its single payload byte.
type BinaryFrame struct {
	Kind      byte
	Pts       int64
	End       int64
	LoopIndex uint32
	LoopPos   int64
	Payload   []byte
}

// KindFor returns the frame kind for a stream
func KindFor(stream media.StreamType) byte {
	if stream == media.StreamVideo {
		return KindVideo
	}
	return KindAudio
}

// NewFrame builds the wire frame for f with an encoded payload
func NewFrame(f media.Frame, payload []byte) BinaryFrame {
	return BinaryFrame{
		Kind:      KindFor(f.Stream),
		Pts:       f.Pts,
		End:       f.End,
		LoopIndex: uint32(f.Loop.Index),
		LoopPos:   f.Loop.Pos,
		Payload:   payload,
	}
}

// EndOfStream builds the wire frame ending stream
func EndOfStream(stream media.StreamType) BinaryFrame {
	return BinaryFrame{Kind: KindEndOfStream, Payload: []byte{byte(stream)}}
}

// Stream returns the stream the frame belongs to
func (f BinaryFrame) Stream() media.StreamType {
	switch f.Kind {
	case KindVideo:
		return media.StreamVideo
	case KindEndOfStream:
		if len(f.Payload) > 0 {
			return media.StreamType(f.Payload[0])
		}
	}
	return media.StreamAudio
}

// Marshal encodes the frame
func (f BinaryFrame) Marshal() []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.Kind
	binary.BigEndian.PutUint64(buf[1:9], uint64(f.Pts))
	binary.BigEndian.PutUint64(buf[9:17], uint64(f.End))
	binary.BigEndian.PutUint32(buf[17:21], f.LoopIndex)
	binary.BigEndian.PutUint64(buf[21:29], uint64(f.LoopPos))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// UnmarshalFrame decodes a binary message. The payload aliases data.
func UnmarshalFrame(data []byte) (BinaryFrame, error) {
	if len(data) < HeaderSize {
		return BinaryFrame{}, fmt.Errorf("binary frame too short: %d bytes", len(data))
	}

	f := BinaryFrame{
		Kind:      data[0],
		Pts:       int64(binary.BigEndian.Uint64(data[1:9])),
		End:       int64(binary.BigEndian.Uint64(data[9:17])),
		LoopIndex: binary.BigEndian.Uint32(data[17:21]),
		LoopPos:   int64(binary.BigEndian.Uint64(data[21:29])),
		Payload:   data[HeaderSize:],
	}

	switch f.Kind {
	case KindAudio, KindVideo:
		if f.End < f.Pts {
			return BinaryFrame{}, fmt.Errorf("binary frame ends before it starts: %d < %d", f.End, f.Pts)
		}
	case KindEndOfStream:
		if len(f.Payload) != 1 {
			return BinaryFrame{}, fmt.Errorf("end of stream frame without stream type")
		}
	default:
		return BinaryFrame{}, fmt.Errorf("unknown binary frame kind: %d", f.Kind)
	}
	return f, nil
}

// Media converts the frame to a media frame without samples. Audio payloads
// still need decoding; video payloads are passed through as Data.
func (f BinaryFrame) Media() media.Frame {
	if f.Kind == KindEndOfStream {
		return media.Frame{Stream: f.Stream()}
	}

	frame := media.Frame{
		Stream: f.Stream(),
		Pts:    f.Pts,
		End:    f.End,
		Valid:  true,
		Loop:   media.LoopOffset{Pos: f.LoopPos, Index: int(f.LoopIndex)},
	}
	if f.Kind == KindVideo {
		frame.Data = f.Payload
	}
	return frame
}
