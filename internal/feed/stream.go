// ABOUTME: Per-connection streaming loop merging audio and video in timestamp order
// ABOUTME: Encodes audio frames, paces sends against the wall clock and acknowledges seeks
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sendspin/sendspin-avsync/internal/protocol"
	"github.com/Sendspin/sendspin-avsync/pkg/audio/encode"
	"github.com/Sendspin/sendspin-avsync/pkg/media"
	"github.com/Sendspin/sendspin-avsync/pkg/source"
)

// track is one stream of a connection
type track struct {
	stream  media.StreamType
	looper  *source.Looper
	encoder encode.Encoder // nil for video
	next    media.Frame
	pending bool
	ended   bool
}

// openTracks prepares the audio track and, when enabled, a tick video track
// covering the same duration
func (s *Server) openTracks(c *client, src source.PCMSource, loops int) ([]*track, error) {
	enc, err := encode.New(c.format)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	tracks := []*track{{
		stream:  media.StreamAudio,
		looper:  source.NewLooper(src, loops),
		encoder: enc,
	}}

	if c.video {
		tick := source.NewTick(s.config.FPS, time.Duration(src.Duration())*time.Microsecond)
		tracks = append(tracks, &track{
			stream: media.StreamVideo,
			looper: source.NewLooper(tick, loops),
		})
	}
	return tracks, nil
}

// peek reads the next frame if none is pending
func (t *track) peek() error {
	if t.pending || t.ended {
		return nil
	}
	frame, err := t.looper.Next()
	if errors.Is(err, io.EOF) {
		t.ended = true
		return nil
	}
	if err != nil {
		return err
	}
	t.next = frame
	t.pending = true
	return nil
}

func (t *track) seek(pos int64) error {
	t.pending = false
	t.ended = false
	return t.looper.Seek(pos)
}

// payload encodes the frame for the wire
func (t *track) payload(frame media.Frame) ([]byte, error) {
	if t.encoder == nil {
		return frame.Data, nil
	}
	return t.encoder.Encode(frame.Samples)
}

func (t *track) close() {
	if t.encoder != nil {
		t.encoder.Close()
	}
	// The audio source belongs to the connection
	if t.stream == media.StreamVideo {
		t.looper.Source().Close()
	}
}

// stream sends frames until ctx ends. A frame at media time pts is sent no
// earlier than Lead before the player reaches it, counting from the latest
// seek or rate change at the rate the player reported.
func (s *Server) stream(ctx context.Context, c *client, tracks []*track, startPos int64, log zerolog.Logger) error {
	var p pacer
	p.reset(time.Now(), startPos)

	applyRate := func(rate float64) {
		p.setRate(time.Now(), rate)
		log.Debug().Float64("rate", rate).Msg("pacing rate changed")
	}

	applySeek := func(seek protocol.StreamSeek) error {
		for _, t := range tracks {
			if err := t.seek(seek.Position); err != nil {
				return err
			}
		}
		p.reset(time.Now(), seek.Position)
		c.position.Store(seek.Position)
		log.Debug().Int64("position", seek.Position).Uint64("seq", seek.Seq).Msg("seek")
		// Acknowledged in order with the frames, so everything after this is post-seek
		return s.send(ctx, c, protocol.Message{Type: protocol.TypeStreamSeek, Payload: seek})
	}

	endSent := false
	for {
		select {
		case seek := <-c.seeks:
			if err := applySeek(seek); err != nil {
				return err
			}
			endSent = false
			continue
		case rate := <-c.rates:
			applyRate(rate)
			continue
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var t *track
		for _, candidate := range tracks {
			wasEnded := candidate.ended
			if err := candidate.peek(); err != nil {
				return err
			}
			if candidate.ended {
				if !wasEnded {
					eos := protocol.EndOfStream(candidate.stream).Marshal()
					if err := s.send(ctx, c, eos); err != nil {
						return err
					}
				}
				continue
			}
			if t == nil || candidate.next.Pts < t.next.Pts {
				t = candidate
			}
		}

		if t == nil {
			if !endSent {
				endSent = true
				log.Debug().Msg("all streams ended")
				if err := s.send(ctx, c, protocol.Message{Type: protocol.TypeStreamEnd, Payload: protocol.StreamEnd{}}); err != nil {
					return err
				}
			}
			select {
			case seek := <-c.seeks:
				if err := applySeek(seek); err != nil {
					return err
				}
				endSent = false
			case rate := <-c.rates:
				applyRate(rate)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		frame := t.next
		due := p.due(frame.Pts).Add(-s.config.Lead)
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case seek := <-c.seeks:
				timer.Stop()
				if err := applySeek(seek); err != nil {
					return err
				}
				endSent = false
				continue
			case rate := <-c.rates:
				timer.Stop()
				applyRate(rate)
				continue
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		payload, err := t.payload(frame)
		if err != nil {
			return fmt.Errorf("failed to encode frame: %w", err)
		}
		t.pending = false

		if err := s.send(ctx, c, protocol.NewFrame(frame, payload).Marshal()); err != nil {
			return err
		}
		c.sent.Inc()
		c.position.Store(frame.Pts)
	}
}

// pacer maps media positions to the wall instant the player reaches them,
// anchored at (started, base) and advancing at rate
type pacer struct {
	started time.Time
	base    int64
	rate    float64
}

func (p *pacer) reset(now time.Time, pos int64) {
	p.started = now
	p.base = pos
	if p.rate == 0 {
		p.rate = 1.0
	}
}

// setRate keeps the position reached at now and continues at rate
func (p *pacer) setRate(now time.Time, rate float64) {
	if rate == p.rate {
		return
	}
	p.base = p.position(now)
	p.started = now
	p.rate = rate
}

func (p *pacer) position(now time.Time) int64 {
	return p.base + int64(float64(now.Sub(p.started).Microseconds())*p.rate)
}

func (p *pacer) due(pts int64) time.Time {
	return p.started.Add(time.Duration(float64(pts-p.base) * float64(time.Microsecond) / p.rate))
}
