package writer

import "time"

// Config mirrors WriterConfiguration: the tuning knobs that shape
// fairness and resource bounds for a single connection's writer.
type Config struct {
	// MaxMessageCount bounds the slot table — the maximum number of
	// messages that may be prepared/in-flight at once on this writer.
	MaxMessageCount int
	// MaxMessageCountMultiplex bounds the write list: Enqueue rejects
	// with ErrMultiplexFull once this many messages are simultaneously
	// queued to be drained.
	MaxMessageCountMultiplex int
	// MaxMessageCountResponseWait bounds how many FlagWaitsResponse
	// messages may hold a slot (order list minus write list) awaiting a
	// peer response at once. Mirrors max_message_count_response_wait.
	MaxMessageCountResponseWait int
	// MaxMessageContinuousPacketCount caps how many consecutive Write
	// calls may be spent draining one message before the writer is
	// forced to rotate to the next pending message, even if the first
	// one isn't finished.
	MaxMessageContinuousPacketCount int
	// CanSendRelayedMessages gates whether slots holding a message
	// relayed from another connection may be drained at all; when
	// false they remain queued but are skipped by the rotation.
	CanSendRelayedMessages bool
	// KeepAliveInterval is how often the connection should emit a
	// KeepAlive packet when the writer has nothing else queued.
	KeepAliveInterval time.Duration
}

// DefaultConfig returns conservative defaults suitable for tests and
// for a connection with no explicit tuning supplied.
func DefaultConfig() Config {
	return Config{
		MaxMessageCount:                 64,
		MaxMessageCountMultiplex:        32,
		MaxMessageCountResponseWait:     16,
		MaxMessageContinuousPacketCount: 4,
		CanSendRelayedMessages:          true,
		KeepAliveInterval:               30 * time.Second,
	}
}
