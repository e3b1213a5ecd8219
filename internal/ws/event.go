package ws

import (
	"github.com/pulsecast/backend/internal/session"
)

// EventKind classifies what the loop is being told about a connection.
type EventKind int

const (
	EventAccept  EventKind = iota // TCP connection accepted
	EventOpen                     // websocket upgrade completed
	EventMessage                  // websocket data frame received
	EventClose                    // connection closed, for any reason
)

func (k EventKind) String() string {
	switch k {
	case EventAccept:
		return "accept"
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is posted to the loop by connection goroutines. Which fields are set
// depends on Kind: Addr for accept, Conn for open, Data for message.
type Event struct {
	Kind EventKind
	ID   session.ConnID
	Addr string
	Conn *Conn
	Data []byte
}
