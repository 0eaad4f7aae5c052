// ABOUTME: Pumps a frame source into a session with looping and seek support
// ABOUTME: Applies loop offsets and repositions the source when the session seeks
package avsync

import (
	"context"
	"errors"
	"io"

	"github.com/Sendspin/sendspin-avsync/pkg/source"
)

// LoopForever makes Feed restart the source indefinitely
const LoopForever = source.LoopForever

type seekRequest struct {
	pos   int64
	epoch int64
}

// Feed reads frames from src and pushes them into the session until ctx is
// cancelled, the session closes or src fails. The source is played loops
// times (LoopForever for no limit, 0 counts as 1). After the last frame the
// stream's end-of-stream marker is sent and Feed waits for a seek to resume.
func (s *Session) Feed(ctx context.Context, src source.Source, loops int) error {
	st, err := s.lookup(src.Stream())
	if err != nil {
		return err
	}

	seeks := make(chan seekRequest, 1)
	s.seekMu.Lock()
	epoch := s.epoch
	s.feeds[seeks] = struct{}{}
	s.seekMu.Unlock()

	defer func() {
		s.seekMu.Lock()
		delete(s.feeds, seeks)
		s.seekMu.Unlock()
	}()

	looper := source.NewLooper(src, loops)
	if pos := s.controller.SeekTime(); pos > 0 {
		if err := looper.Seek(pos); err != nil {
			return err
		}
	}

	log := s.log.With().Stringer("stream", st.typ).Logger()
	log.Debug().Int64("duration", src.Duration()).Int("loops", loops).Msg("feed started")

	ended := false
	loopIndex := looper.Loop().Index
	for {
		if ended {
			select {
			case req := <-seeks:
				epoch = req.epoch
				if err := looper.Seek(req.pos); err != nil {
					return err
				}
				ended = false
			case <-ctx.Done():
				return ctx.Err()
			case <-s.done:
				return ErrClosed
			}
			continue
		}

		select {
		case req := <-seeks:
			epoch = req.epoch
			if err := looper.Seek(req.pos); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		default:
		}

		frame, err := looper.Next()
		if errors.Is(err, io.EOF) {
			if err := s.endOfStream(st, epoch); err != nil && !errors.Is(err, errStaleFrame) {
				return err
			}
			ended = true
			continue
		}
		if err != nil {
			return err
		}
		if frame.Loop.Index != loopIndex {
			loopIndex = frame.Loop.Index
			log.Debug().Int("loop", loopIndex).Int64("start", frame.Loop.Pos).Msg("looping source")
		}

		err = s.push(ctx, frame, epoch)
		if errors.Is(err, errStaleFrame) {
			continue
		}
		if err != nil {
			return err
		}
	}
}
