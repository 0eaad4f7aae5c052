// ABOUTME: Tests for the feed client
// ABOUTME: Runs a real feed server over httptest and reads streams through the client
package client

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sendspin/sendspin-avsync/internal/feed"
	"github.com/Sendspin/sendspin-avsync/pkg/audio"
	"github.com/Sendspin/sendspin-avsync/pkg/media"
	"github.com/Sendspin/sendspin-avsync/pkg/source"
)

func startFeed(t *testing.T, config feed.Config) string {
	t.Helper()
	if config.Audio == nil {
		config.Audio = func() (source.PCMSource, error) {
			return source.NewTone(48000, 2, 100*time.Millisecond), nil
		}
	}
	srv, err := feed.NewServer(config)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}

func connect(t *testing.T, config Config) *Client {
	t.Helper()
	c := NewClient(config)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { c.Close() })
	return c
}

// readAll reads frames until the stream ends
func readAll(t *testing.T, s *StreamSource) []media.Frame {
	t.Helper()
	var frames []media.Frame
	for {
		f, err := s.ReadFrame()
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{ServerAddr: "localhost:1"})
	require.Equal(t, "/feed", c.config.Path)
	require.NotEmpty(t, c.config.ClientID)
	require.Len(t, c.config.Formats, 3)
	require.NotEmpty(t, c.config.DeviceInfo.ProductName)
}

func TestConnectFails(t *testing.T) {
	c := NewClient(Config{ServerAddr: "127.0.0.1:1"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, c.Connect(ctx))
}

func TestReceivesAudio(t *testing.T) {
	addr := startFeed(t, feed.Config{Codec: "pcm24"})
	c := connect(t, Config{ServerAddr: addr})

	require.Equal(t, audio.CodecPCM, c.Format().Codec)
	require.Equal(t, 24, c.Format().BitDepth)
	require.Equal(t, int64(100000), c.Start().Duration)
	require.Nil(t, c.Video())

	a := c.Audio()
	require.Equal(t, 48000, a.SampleRate())
	require.Equal(t, 2, a.Channels())

	frames := readAll(t, a)
	require.Len(t, frames, 5)
	for i, f := range frames {
		require.Equal(t, media.StreamAudio, f.Stream)
		require.Equal(t, int64(i*20000), f.Pts)
		require.Equal(t, int64(i*20000+20000), f.End)
		require.Len(t, f.Samples, 960*2)
	}
}

func TestSeekDiscardsOldFrames(t *testing.T) {
	addr := startFeed(t, feed.Config{})
	c := connect(t, Config{ServerAddr: addr})
	a := c.Audio()

	first, err := a.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, int64(0), first.Pts)

	require.NoError(t, a.SeekTo(40000))
	frames := readAll(t, a)
	require.NotEmpty(t, frames)
	require.Equal(t, int64(40000), frames[0].Pts)
	require.Equal(t, int64(80000), frames[len(frames)-1].Pts)
}

func TestSeekSharedAcrossStreams(t *testing.T) {
	addr := startFeed(t, feed.Config{Video: true, FPS: 25})
	c := connect(t, Config{ServerAddr: addr, Video: true})

	a, v := c.Audio(), c.Video()
	require.NotNil(t, v)

	require.NoError(t, a.SeekTo(40000))
	require.NoError(t, v.SeekTo(40000))
	require.Equal(t, a.want, v.want, "both streams should wait for the same seek")
	require.Equal(t, uint64(1), c.currentSeq())

	done := make(chan []media.Frame)
	go func() { done <- readAll(t, v) }()

	audioFrames := readAll(t, a)
	videoFrames := <-done

	require.Equal(t, int64(40000), audioFrames[0].Pts)
	require.Len(t, audioFrames, 3)
	require.Len(t, videoFrames, 2)
	require.Equal(t, int64(40000), videoFrames[0].Pts)
	n, ok := source.TickNumber(videoFrames[1])
	require.True(t, ok)
	require.Equal(t, int64(2), n)
}

func TestLoopsRequestedByClient(t *testing.T) {
	addr := startFeed(t, feed.Config{})
	c := connect(t, Config{ServerAddr: addr, Loops: 2})

	frames := readAll(t, c.Audio())
	require.Len(t, frames, 10)
	require.Equal(t, int64(100000), frames[5].Pts)
	require.Equal(t, 1, frames[5].Loop.Index)
	require.Equal(t, int64(100000), frames[5].Loop.Pos)
}

func TestSetPlaybackRate(t *testing.T) {
	addr := startFeed(t, feed.Config{
		Audio: func() (source.PCMSource, error) {
			return source.NewTone(48000, 2, 400*time.Millisecond), nil
		},
		Lead: time.Millisecond,
	})
	c := connect(t, Config{ServerAddr: addr})

	require.Error(t, c.SetPlaybackRate(0))
	require.NoError(t, c.SetPlaybackRate(4.0))

	begin := time.Now()
	frames := readAll(t, c.Audio())
	require.Len(t, frames, 20)
	require.Less(t, time.Since(begin), 300*time.Millisecond)
}

func TestCloseEndsReads(t *testing.T) {
	addr := startFeed(t, feed.Config{})
	c := connect(t, Config{ServerAddr: addr})
	readAll(t, c.Audio())

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not shut down")
	}

	_, err := c.Audio().ReadFrame()
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, c.Close())
}
