// Package courier bridges the order book to chat platforms. It owns the
// transport Adapter interface, the outbound Dispatcher that throttles every
// send, the Router/CommandHandler pair that turns group messages into order
// operations, and the Daemon that wires them together.
package courier

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific transports must satisfy.
// Each adapter handles connection management and message delivery for a
// single chat platform; everything above it is platform-agnostic.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers text to the chat or contact behind address.
	Send(ctx context.Context, address, text string) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// GroupResolver is an optional interface adapters can implement to look up
// a group address by a name substring. Used at startup and after reconnects
// to locate the authorized orders group.
type GroupResolver interface {
	ResolveGroupAddress(ctx context.Context, nameSubstring string) (string, error)
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// InboundMessage represents a chat event received from the platform.
type InboundMessage struct {
	Address    string    // address of the chat the message arrived in
	SenderID   string    // platform-specific sender identifier
	SenderName string    // human-readable sender name
	Text       string    // raw message text
	IsGroup    bool      // whether the chat is a group
	GroupName  string    // group display name (empty for direct chats)
	IsAdmin    bool      // whether the sender holds elevated privilege in the chat
	Timestamp  time.Time // when the message was sent
}
