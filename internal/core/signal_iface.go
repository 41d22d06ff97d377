package core

// Frame is a raw wire payload (JSON-encoded signaling message).
type Frame []byte

// ConnID identifies one transport connection. A user reconnecting gets a
// fresh ConnID; the registry keys on connections, not users.
type ConnID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
