// Package common holds types shared by the HTTP and WebSocket servers.
package common

import "time"

// WebSocket timing constants, tuned for flaky client networks.
const (
	// WriteWait is the time allowed to write a message to the peer.
	WriteWait = 15 * time.Second

	// PongWait is the time allowed to read the next pong from the peer.
	PongWait = 90 * time.Second

	// PingPeriod is the interval for sending pings. Must be less than
	// PongWait.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is the maximum inbound message size from a peer.
	MaxMessageSize = 512 * 1024

	// SendBufferSize is the per-client outbound buffer, sized for PTY
	// output bursts.
	SendBufferSize = 1024
)
