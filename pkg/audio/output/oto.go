// ABOUTME: Oto-based audio output implementation
// ABOUTME: A persistent oto player pulls 16-bit PCM from a ring buffer
package output

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/Sendspin/sendspin-avsync/pkg/audio"
)

// DefaultBufferDuration is how much audio the ring buffer holds
const DefaultBufferDuration = 500 * time.Millisecond

// OtoConfig configures an Oto output
type OtoConfig struct {
	// BufferDuration sizes the ring buffer (default: 500ms)
	BufferDuration time.Duration

	// Logger receives diagnostics (default: disabled)
	Logger *zerolog.Logger
}

// Oto output implementation using oto library
type Oto struct {
	mu         sync.Mutex
	otoCtx     *oto.Context
	player     *oto.Player
	ring       *RingBuffer
	scratch    []int32
	sampleRate int
	channels   int
	bufferDur  time.Duration
	underruns  atomic.Int64
	log        zerolog.Logger
	ready      bool
}

// NewOto creates a new Oto output
func NewOto(config OtoConfig) *Oto {
	if config.BufferDuration <= 0 {
		config.BufferDuration = DefaultBufferDuration
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Oto{
		bufferDur: config.BufferDuration,
		log:       logger,
	}
}

// Open initializes the output device
func (o *Oto) Open(sampleRate, channels int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	// If already initialized with same format, reuse the existing context
	if o.otoCtx != nil && o.sampleRate == sampleRate && o.channels == channels {
		o.log.Debug().Msg("audio output already initialized with same format, reusing context")
		return nil
	}

	// oto only allows one context per process
	if o.otoCtx != nil {
		return fmt.Errorf("format change (%dHz %dch -> %dHz %dch) not supported by oto",
			o.sampleRate, o.channels, sampleRate, channels)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	o.otoCtx = ctx
	o.sampleRate = sampleRate
	o.channels = channels
	o.ring = NewRingBuffer(int(int64(sampleRate*channels) * int64(o.bufferDur) / int64(time.Second)))

	o.player = o.otoCtx.NewPlayer(o)
	o.player.Play()
	o.ready = true

	o.log.Info().
		Int("sampleRate", sampleRate).
		Int("channels", channels).
		Dur("buffer", o.bufferDur).
		Msg("audio output initialized")

	return nil
}

// Read feeds the oto player. It never blocks and plays silence on underrun.
func (o *Oto) Read(buf []byte) (int, error) {
	n := len(buf) / 2
	if cap(o.scratch) < n {
		o.scratch = make([]int32, n)
	}
	samples := o.scratch[:n]

	if read := o.ring.Read(samples); read < n && read > 0 {
		o.underruns.Inc()
	}

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(audio.SampleToInt16(s)))
	}
	return n * 2, nil
}

// Write queues samples without blocking
func (o *Oto) Write(samples []int32) int {
	if !o.ready {
		return 0
	}
	return o.ring.Write(samples)
}

// Free returns the ring buffer's free space in samples
func (o *Oto) Free() int {
	if !o.ready {
		return 0
	}
	return o.ring.Free()
}

// Buffered counts samples in the ring and in the player's own buffer
func (o *Oto) Buffered() int {
	if !o.ready {
		return 0
	}
	return o.ring.Available() + o.player.BufferedSize()/2
}

// Flush drops queued samples
func (o *Oto) Flush() {
	if !o.ready {
		return
	}
	o.ring.Clear()
}

// SetPaused pauses or resumes the player
func (o *Oto) SetPaused(paused bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.ready {
		return
	}
	if paused {
		o.player.Pause()
	} else {
		o.player.Play()
	}
}

// Underruns returns how many device reads found the buffer short
func (o *Oto) Underruns() int64 {
	return o.underruns.Load()
}

// Close releases output resources
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			o.log.Warn().Err(err).Msg("failed to suspend oto context")
		}
	}
	o.ready = false
	return nil
}
