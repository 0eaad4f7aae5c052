// ABOUTME: Tests for the video sink
// ABOUTME: Covers display, clock reporting and late frame accounting
package video

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sendspin/sendspin-avsync/pkg/clock"
	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

func fixedNow() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestSinkDisplaysFrames(t *testing.T) {
	var shown []int64
	s := NewSink(SinkConfig{Display: func(f media.Frame) { shown = append(shown, f.Pts) }})

	s.RenderInternal(media.NewFrame(media.StreamVideo, 0, 40000))
	s.RenderInternal(media.NewFrame(media.StreamVideo, 40000, 40000))
	res := s.RenderInternal(media.Frame{})

	require.Zero(t, res.TimeLeft)
	require.Equal(t, []int64{0, 40000}, shown)
	require.Equal(t, uint64(2), s.Metrics().Presented)
	require.Equal(t, int64(40000), s.Metrics().LastPts)
}

func TestSinkDrivesMasterClock(t *testing.T) {
	ctrl := clock.NewController(clock.Config{Now: fixedNow()})
	defer ctrl.Close()

	s := NewSink(SinkConfig{})
	c := clock.NewClock(ctrl, s.ClockType(), nil)
	s.AttachClock(c)
	require.True(t, c.IsMaster())

	s.RenderInternal(media.NewFrame(media.StreamVideo, 120000, 40000))
	require.Equal(t, int64(120000), ctrl.CurrentTime())
	require.Zero(t, s.Metrics().Late)
}

func TestSinkCountsLateFrames(t *testing.T) {
	ctrl := clock.NewController(clock.Config{Now: fixedNow()})
	defer ctrl.Close()

	// An audio clock owns the timeline
	master := clock.NewClock(ctrl, clock.AudioClock, nil)
	master.TimeUpdated(500000)

	s := NewSink(SinkConfig{LateTolerance: 40 * time.Millisecond})
	c := clock.NewClock(ctrl, s.ClockType(), nil)
	s.AttachClock(c)
	require.False(t, c.IsMaster())

	s.RenderInternal(media.NewFrame(media.StreamVideo, 480000, 40000))
	require.Zero(t, s.Metrics().Late)

	s.RenderInternal(media.NewFrame(media.StreamVideo, 400000, 40000))
	m := s.Metrics()
	require.Equal(t, uint64(1), m.Late)
	require.Equal(t, 100*time.Millisecond, m.MaxLateness)
	require.Equal(t, int64(500000), ctrl.CurrentTime())
}
