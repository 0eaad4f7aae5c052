// ABOUTME: Tests for the source looper
// ABOUTME: Covers loop offsets, seeking across iterations and termination
package source

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

func TestLoopAt(t *testing.T) {
	tests := []struct {
		name     string
		pos      int64
		duration int64
		loops    int
		want     media.LoopOffset
	}{
		{"start", 0, 1000, 3, media.LoopOffset{}},
		{"second loop", 1500, 1000, 3, media.LoopOffset{Pos: 1000, Index: 1}},
		{"past the end clamps", 9000, 1000, 3, media.LoopOffset{Pos: 2000, Index: 2}},
		{"forever", 9000, 1000, LoopForever, media.LoopOffset{Pos: 9000, Index: 9}},
		{"unbounded source", 9000, 0, 3, media.LoopOffset{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, LoopAt(tt.pos, tt.duration, tt.loops))
		})
	}
}

func TestLooperRepeats(t *testing.T) {
	src := NewTick(25, 80*time.Millisecond)
	l := NewLooper(src, 2)
	require.Equal(t, int64(160000), l.Duration())

	var pts []int64
	var loops []int
	for {
		f, err := l.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		pts = append(pts, f.Pts)
		loops = append(loops, f.Loop.Index)
	}

	require.Equal(t, []int64{0, 40000, 80000, 120000}, pts)
	require.Equal(t, []int{0, 0, 1, 1}, loops)
}

func TestLooperSeek(t *testing.T) {
	l := NewLooper(NewTick(25, 80*time.Millisecond), LoopForever)
	require.Zero(t, l.Duration())

	require.NoError(t, l.Seek(200000))
	f, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, int64(200000), f.Pts)
	require.Equal(t, media.LoopOffset{Pos: 160000, Index: 2}, f.Loop)
}

func TestLooperDefaultsToOnce(t *testing.T) {
	l := NewLooper(NewTick(25, 40*time.Millisecond), 0)
	_, err := l.Next()
	require.NoError(t, err)
	_, err = l.Next()
	require.ErrorIs(t, err, io.EOF)
}
