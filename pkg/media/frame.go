// ABOUTME: Timestamped frame type shared by sources, renderers and presenters
// ABOUTME: Positions are absolute media time in microseconds with loop offset applied
package media

import "fmt"

// StreamType identifies which output a frame belongs to
type StreamType byte

const (
	StreamAudio StreamType = 0x01
	StreamVideo StreamType = 0x02
)

func (t StreamType) String() string {
	switch t {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	default:
		return "unknown"
	}
}

// LoopOffset records which loop iteration a frame was produced in
type LoopOffset struct {
	Pos   int64 // Media time (µs) at which this loop iteration starts
	Index int
}

// Frame is a decoded unit of media waiting for presentation.
//
// The zero Frame is the end-of-stream marker: it is not Valid and carries no
// timing information.
type Frame struct {
	Stream  StreamType
	Pts     int64 // Absolute presentation time (µs)
	End     int64 // Absolute end time (µs)
	Valid   bool
	Loop    LoopOffset
	Samples []int32 // Interleaved PCM for audio frames
	Data    []byte  // Opaque payload for video frames
}

// NewFrame creates a valid frame covering [pts, pts+duration)
func NewFrame(stream StreamType, pts, duration int64) Frame {
	return Frame{
		Stream: stream,
		Pts:    pts,
		End:    pts + duration,
		Valid:  true,
	}
}

// Duration returns End - Pts
func (f Frame) Duration() int64 {
	return f.End - f.Pts
}

// WithLoop shifts the frame into the given loop iteration
func (f Frame) WithLoop(loop LoopOffset) Frame {
	f.Pts += loop.Pos
	f.End += loop.Pos
	f.Loop = loop
	return f
}

func (f Frame) String() string {
	if !f.Valid {
		return "frame{eos}"
	}
	return fmt.Sprintf("frame{%s pts=%d end=%d loop=%d}", f.Stream, f.Pts, f.End, f.Loop.Index)
}
