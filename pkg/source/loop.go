// ABOUTME: Repeats a source a fixed or unlimited number of times
// ABOUTME: Stamps frames with loop offsets and seeks across loop iterations
package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

// LoopForever repeats a source without limit
const LoopForever = -1

// LoopAt returns the loop iteration containing pos for a source of the given
// duration played loops times
func LoopAt(pos, duration int64, loops int) media.LoopOffset {
	if duration <= 0 || pos <= 0 {
		return media.LoopOffset{}
	}
	index := pos / duration
	if loops > 0 && index >= int64(loops) {
		index = int64(loops) - 1
	}
	return media.LoopOffset{Pos: index * duration, Index: int(index)}
}

// Looper reads a source loops times (LoopForever for no limit, 0 counts as
// 1). Frames come out on one continuous timeline: each iteration is shifted
// by the durations of the ones before it.
type Looper struct {
	src      Source
	loops    int
	duration int64
	loop     media.LoopOffset
}

// NewLooper wraps src
func NewLooper(src Source, loops int) *Looper {
	if loops == 0 {
		loops = 1
	}
	return &Looper{src: src, loops: loops, duration: src.Duration()}
}

// Source returns the wrapped source
func (l *Looper) Source() Source {
	return l.src
}

// Loop returns the current loop iteration
func (l *Looper) Loop() media.LoopOffset {
	return l.loop
}

// Duration returns the length of the whole timeline, or 0 when unbounded
func (l *Looper) Duration() int64 {
	if l.loops < 0 {
		return 0
	}
	return l.duration * int64(l.loops)
}

// Seek repositions to pos on the looped timeline
func (l *Looper) Seek(pos int64) error {
	l.loop = LoopAt(pos, l.duration, l.loops)
	if err := l.src.SeekTo(pos - l.loop.Pos); err != nil {
		return fmt.Errorf("seek source: %w", err)
	}
	return nil
}

// Next returns the next frame with its loop offset applied. It returns
// io.EOF after the final iteration.
func (l *Looper) Next() (media.Frame, error) {
	for {
		frame, err := l.src.ReadFrame()
		if errors.Is(err, io.EOF) {
			if l.duration > 0 && (l.loops < 0 || l.loop.Index+1 < l.loops) {
				l.loop = media.LoopOffset{Pos: l.loop.Pos + l.duration, Index: l.loop.Index + 1}
				if err := l.src.SeekTo(0); err != nil {
					return media.Frame{}, fmt.Errorf("rewind source: %w", err)
				}
				continue
			}
			return media.Frame{}, io.EOF
		}
		if err != nil {
			return media.Frame{}, fmt.Errorf("read frame: %w", err)
		}
		return frame.WithLoop(l.loop), nil
	}
}
