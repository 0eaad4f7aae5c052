// ABOUTME: Per-stream view of a feed connection usable as a frame source
// ABOUTME: Lets a playback session pull, seek and detect the end of remote streams
package client

import (
	"io"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

type taggedFrame struct {
	frame media.Frame
	seq   uint64 // Seek sequence acknowledged when the frame arrived
}

// StreamSource delivers one stream of a feed. It implements source.PCMSource
// for the audio stream and source.Source for video.
type StreamSource struct {
	c      *Client
	stream media.StreamType
	frames chan taggedFrame
	round  uint64 // Guarded by c.mu
	want   uint64
}

func newStreamSource(c *Client, stream media.StreamType) *StreamSource {
	return &StreamSource{
		c:      c,
		stream: stream,
		frames: make(chan taggedFrame, frameBuffer),
	}
}

func (s *StreamSource) Stream() media.StreamType { return s.stream }

// ReadFrame blocks for the next frame. It returns io.EOF when the server
// ends the stream and ErrClosed once the connection is gone.
func (s *StreamSource) ReadFrame() (media.Frame, error) {
	for {
		select {
		case tf := <-s.frames:
			if tf.seq < s.want {
				continue
			}
			if !tf.frame.Valid {
				return media.Frame{}, io.EOF
			}
			return tf.frame, nil
		case <-s.c.done:
			if err := s.c.Err(); err != nil {
				return media.Frame{}, err
			}
			return media.Frame{}, ErrClosed
		}
	}
}

// SeekTo asks the server to restart at pos and discards older frames
func (s *StreamSource) SeekTo(pos int64) error {
	seq, err := s.c.seek(s, pos)
	s.want = seq
	return err
}

// Duration is 0: looping happens on the server
func (s *StreamSource) Duration() int64 { return 0 }

// Close is a no-op; the connection is closed through the Client
func (s *StreamSource) Close() error { return nil }

// SampleRate returns the audio sample rate
func (s *StreamSource) SampleRate() int { return s.c.format.SampleRate }

// Channels returns the audio channel count
func (s *StreamSource) Channels() int { return s.c.format.Channels }
