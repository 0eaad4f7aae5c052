// ABOUTME: Tests for the feed server
// ABOUTME: Drives the websocket protocol directly against an httptest server
package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Sendspin/sendspin-avsync/internal/protocol"
	"github.com/Sendspin/sendspin-avsync/pkg/audio"
	"github.com/Sendspin/sendspin-avsync/pkg/media"
	"github.com/Sendspin/sendspin-avsync/pkg/source"
)

func toneFactory(d time.Duration) SourceFactory {
	return func() (source.PCMSource, error) {
		return source.NewTone(48000, 2, d), nil
	}
}

func newTestServer(t *testing.T, config Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(config)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, hello protocol.ClientHello) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + Path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.NoError(t, ws.WriteJSON(protocol.Message{Type: protocol.TypeClientHello, Payload: hello}))
	return ws
}

func readText(t *testing.T, ws *websocket.Conn, typ string, v interface{}) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	env, err := protocol.ParseEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, typ, env.Type)
	require.NoError(t, env.Decode(v))
}

// readUntilEnd collects binary frames until stream/end
func readUntilEnd(t *testing.T, ws *websocket.Conn) []protocol.BinaryFrame {
	t.Helper()
	var frames []protocol.BinaryFrame
	for {
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, data, err := ws.ReadMessage()
		require.NoError(t, err)
		if msgType == websocket.TextMessage {
			env, err := protocol.ParseEnvelope(data)
			require.NoError(t, err)
			if env.Type == protocol.TypeStreamEnd {
				return frames
			}
			continue
		}
		bf, err := protocol.UnmarshalFrame(data)
		require.NoError(t, err)
		frames = append(frames, bf)
	}
}

func hello() protocol.ClientHello {
	return protocol.ClientHello{ClientID: "c1", Name: "test", Version: protocol.Version}
}

func TestNewServerRequiresSource(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, Config{Audio: toneFactory(0)})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamsAudioToEnd(t *testing.T) {
	_, ts := newTestServer(t, Config{Audio: toneFactory(100 * time.Millisecond)})
	ws := dial(t, ts, hello())

	var sh protocol.ServerHello
	readText(t, ws, protocol.TypeServerHello, &sh)
	require.Equal(t, protocol.Version, sh.Version)

	var start protocol.StreamStart
	readText(t, ws, protocol.TypeStreamStart, &start)
	require.Equal(t, audio.CodecPCM, start.Audio.Codec)
	require.Equal(t, 48000, start.Audio.SampleRate)
	require.Nil(t, start.Video)
	require.Equal(t, int64(100000), start.Duration)

	frames := readUntilEnd(t, ws)
	require.Len(t, frames, 6)
	for i, f := range frames[:5] {
		require.Equal(t, protocol.KindAudio, f.Kind)
		require.Equal(t, int64(i*20000), f.Pts)
		require.Len(t, f.Payload, 960*2*2)
	}
	require.Equal(t, protocol.KindEndOfStream, frames[5].Kind)
	require.Equal(t, media.StreamAudio, frames[5].Stream())
}

func TestLoopsAndVideo(t *testing.T) {
	_, ts := newTestServer(t, Config{
		Audio: toneFactory(80 * time.Millisecond),
		Video: true,
		FPS:   25,
		Loops: 2,
	})
	h := hello()
	h.Video = true
	ws := dial(t, ts, h)

	readText(t, ws, protocol.TypeServerHello, &protocol.ServerHello{})
	var start protocol.StreamStart
	readText(t, ws, protocol.TypeStreamStart, &start)
	require.NotNil(t, start.Video)
	require.Equal(t, 25, start.Video.FPS)

	var audioPts, videoPts []int64
	var lastPts int64 = -1
	for _, f := range readUntilEnd(t, ws) {
		switch f.Kind {
		case protocol.KindAudio:
			audioPts = append(audioPts, f.Pts)
		case protocol.KindVideo:
			videoPts = append(videoPts, f.Pts)
		default:
			continue
		}
		require.GreaterOrEqual(t, f.Pts, lastPts, "frames must be sent in timestamp order")
		lastPts = f.Pts
		if f.Pts >= 80000 {
			require.Equal(t, uint32(1), f.LoopIndex)
			require.Equal(t, int64(80000), f.LoopPos)
		}
	}

	require.Len(t, audioPts, 8)
	require.Equal(t, []int64{0, 40000, 80000, 120000}, videoPts)
}

func TestSeekIsAcknowledged(t *testing.T) {
	_, ts := newTestServer(t, Config{Audio: toneFactory(100 * time.Millisecond)})
	ws := dial(t, ts, hello())

	readText(t, ws, protocol.TypeServerHello, &protocol.ServerHello{})
	readText(t, ws, protocol.TypeStreamStart, &protocol.StreamStart{})
	readUntilEnd(t, ws)

	require.NoError(t, ws.WriteJSON(protocol.Message{
		Type:    protocol.TypeStreamSeek,
		Payload: protocol.StreamSeek{Position: 60000, Seq: 1},
	}))

	var ack protocol.StreamSeek
	readText(t, ws, protocol.TypeStreamSeek, &ack)
	require.Equal(t, uint64(1), ack.Seq)

	frames := readUntilEnd(t, ws)
	require.Len(t, frames, 3)
	require.Equal(t, int64(60000), frames[0].Pts)
	require.Equal(t, int64(80000), frames[1].Pts)
}

func TestPacer(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var p pacer
	p.reset(t0, 0)
	require.Equal(t, t0.Add(time.Second), p.due(1000000))

	p.setRate(t0.Add(500*time.Millisecond), 2.0)
	require.Equal(t, int64(500000), p.position(t0.Add(500*time.Millisecond)))
	require.Equal(t, t0.Add(time.Second), p.due(1500000))

	// A seek keeps the reported rate
	p.reset(t0.Add(2*time.Second), 10000000)
	require.Equal(t, 2.0, p.rate)
	require.Equal(t, t0.Add(2500*time.Millisecond), p.due(11000000))
}

func TestRateChangesPacing(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		atLeast time.Duration
		atMost  time.Duration
	}{
		{"faster", 4.0, 0, 300 * time.Millisecond},
		{"invalid rate ignored", -1, 350 * time.Millisecond, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, Config{
				Audio: toneFactory(400 * time.Millisecond),
				Lead:  time.Millisecond,
			})
			ws := dial(t, ts, hello())
			require.NoError(t, ws.WriteJSON(protocol.Message{
				Type:    protocol.TypeStreamRate,
				Payload: protocol.StreamRate{Rate: tt.rate},
			}))

			readText(t, ws, protocol.TypeServerHello, &protocol.ServerHello{})
			readText(t, ws, protocol.TypeStreamStart, &protocol.StreamStart{})

			begin := time.Now()
			frames := readUntilEnd(t, ws)
			elapsed := time.Since(begin)

			require.Len(t, frames, 21)
			require.GreaterOrEqual(t, elapsed, tt.atLeast)
			require.Less(t, elapsed, tt.atMost)
		})
	}
}

func TestRejectsBadHello(t *testing.T) {
	_, ts := newTestServer(t, Config{Audio: toneFactory(0)})
	ws := dial(t, ts, protocol.ClientHello{Name: "no id"})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
}

func TestClientsEndpoint(t *testing.T) {
	s, ts := newTestServer(t, Config{Audio: toneFactory(0)})
	ws := dial(t, ts, hello())
	readText(t, ws, protocol.TypeServerHello, &protocol.ServerHello{})

	require.Eventually(t, func() bool { return len(s.Clients()) == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/clients")
	require.NoError(t, err)
	defer resp.Body.Close()

	var clients []ClientInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&clients))
	require.Len(t, clients, 1)
	require.Equal(t, "c1", clients[0].ID)
	require.Equal(t, "pcm16 48000Hz 2ch", clients[0].Format)
}

func TestNegotiateFormat(t *testing.T) {
	src := source.NewTone(44100, 2, 0)

	tests := []struct {
		name      string
		codec     string
		supported []protocol.AudioFormat
		want      string
	}{
		{"no preferences", "pcm24", nil, "pcm24 44100Hz 2ch"},
		{"accepted", "pcm24", []protocol.AudioFormat{{Codec: "pcm", BitDepth: 24}}, "pcm24 44100Hz 2ch"},
		{"bit depth refused", "pcm24", []protocol.AudioFormat{{Codec: "pcm", BitDepth: 16}}, "pcm16 44100Hz 2ch"},
		{"opus needs 48k", "opus", nil, "pcm16 44100Hz 2ch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(Config{Audio: toneFactory(0), Codec: tt.codec})
			require.NoError(t, err)
			require.Equal(t, tt.want, s.negotiateFormat(src, tt.supported).String())
		})
	}
}
