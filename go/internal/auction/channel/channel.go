// Package channel delivers pushed auction events to session views. Delivery
// is best effort: events may be lost, duplicated or reordered, and views
// rely on polling to close the gaps.
package channel

import "errors"

// Status is the connection state of a transport.
type Status string

const (
	StatusConnected    Status = "CONNECTED"
	StatusReconnecting Status = "RECONNECTING"
	StatusDisconnected Status = "DISCONNECTED"
	StatusClosed       Status = "CLOSED"
)

// ErrClosed is returned by operations on a closed transport or manager.
var ErrClosed = errors.New("channel closed")

// Message is one pushed payload.
type Message struct {
	Topic string
	Data  []byte
}

// Handler receives messages. It may be called from any goroutine.
type Handler func(Message)

// Subscription is a live subscription on a transport.
type Subscription interface {
	Unsubscribe() error
}

// Transport is the push connection shared by every view in a process.
type Transport interface {
	Subscribe(topic string, h Handler) (Subscription, error)
	Status() Status
	// OnStatus registers a listener for status changes and returns a func
	// that removes it.
	OnStatus(fn func(Status)) (remove func())
	Close() error
}
