// ABOUTME: Feed protocol package
// ABOUTME: Message types and binary frame format shared by feed server and client
// Package protocol defines the wire format between a feed server and a
// player.
//
// Control messages are JSON text frames of the form {"type", "payload"}.
// Media travels in binary frames with a fixed header:
//
//	[kind u8][pts i64][end i64][loop index u32][loop pos i64][payload]
//
// All integers are big-endian; times are microseconds of media time with the
// loop offset already applied.
package protocol
