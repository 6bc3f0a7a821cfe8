// Package schema defines the canonical venue-agnostic gateway model.
package schema

// ConnectivityStatus reports whether a venue stream is usable.
type ConnectivityStatus int

const (
	// Disconnected means no live stream; nothing can be sent or received.
	Disconnected ConnectivityStatus = iota
	// Connected means the stream is open and subscriptions have been (re)issued.
	Connected
)

func (s ConnectivityStatus) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}
