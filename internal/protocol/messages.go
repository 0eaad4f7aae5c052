// ABOUTME: Feed protocol message type definitions
// ABOUTME: JSON control envelopes exchanged over the feed websocket
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the feed protocol version
const Version = 1

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypeStreamStart   = "stream/start"
	TypeStreamSeek    = "stream/seek"
	TypeStreamRate    = "stream/rate"
	TypeStreamEnd     = "stream/end"
	TypeClientGoodbye = "client/goodbye"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Envelope is a received message whose payload has not been decoded yet
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseEnvelope reads the type of a text message
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to parse message: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("message has no type")
	}
	return env, nil
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", e.Type, err)
	}
	return nil
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID         string        `json:"client_id"`
	Name             string        `json:"name"`
	Version          int           `json:"version"`
	DeviceInfo       *DeviceInfo   `json:"device_info,omitempty"`
	SupportedFormats []AudioFormat `json:"supported_formats"`
	Video            bool          `json:"video"`    // Client can present video frames
	StartAt          int64         `json:"start_at"` // Initial position in µs
	Loops            int           `json:"loops"`    // Requested repeats, -1 for forever
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// AudioFormat describes an audio format
type AudioFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
}

// VideoFormat describes the video stream
type VideoFormat struct {
	FPS int `json:"fps"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// StreamStart announces the streams that follow
type StreamStart struct {
	Audio    *AudioFormat `json:"audio,omitempty"`
	Video    *VideoFormat `json:"video,omitempty"`
	Duration int64        `json:"duration"` // One loop in µs, 0 when unbounded
}

// StreamSeek asks the server to restart streaming at Position. The server
// echoes it back once no frame from before the seek remains in flight.
type StreamSeek struct {
	Position int64  `json:"position"`
	Seq      uint64 `json:"seq"`
}

// StreamRate reports the player's playback rate so the server paces frames
// at the speed they are consumed
type StreamRate struct {
	Rate float64 `json:"rate"`
}

// StreamEnd tells the client no more frames follow
type StreamEnd struct{}

// ClientGoodbye is sent before graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"` // "shutdown", "user_request"
}
