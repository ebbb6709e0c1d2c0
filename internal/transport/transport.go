// Package transport defines the connection layer the gossip overlay sits
// on: dialing, handshake completion signaling, and raw framed
// send/receive, addressed by opaque connection ids.
package transport

import (
	"context"
	"errors"

	"github.com/paw-chain/gossip-overlay/internal/wire"
)

// ConnectionID is an opaque identifier minted by Transport, stable for the
// lifetime of a connection.
type ConnectionID string

// ErrInvalidConnection is returned by Send when the connection id no
// longer refers to a live connection.
var ErrInvalidConnection = errors.New("transport: invalid connection")

// ErrKeyNotFound is returned by endpoint/connection lookups when no entry
// exists. Callers treat it as "need to dial", not as a failure.
var ErrKeyNotFound = errors.New("transport: key not found")

// SendCallback receives the raw reply bytes to a Send call, or an error if
// none arrived before the Transport gave up waiting.
type SendCallback func(replyType wire.MessageType, payload []byte, err error)

// Event is raised by Transport when a dialed or accepted connection
// completes authorization.
type Event struct {
	ConnectionID ConnectionID
}

// Transport is the capability surface consumed by Gossip and the
// connection manager. Implementations must be safe for concurrent use;
// Send may block briefly.
type Transport interface {
	// Send delivers bytes tagged with msgType to connID. If oneWay is
	// false, cb is invoked with the reply (or an error) once it arrives or
	// times out. Returns ErrInvalidConnection if connID is unknown.
	Send(ctx context.Context, msgType wire.MessageType, payload []byte, connID ConnectionID, oneWay bool, cb SendCallback) error

	// AddOutboundConnection dials endpoint and returns the connection_id
	// that will later raise a connect_success Event once authorized.
	AddOutboundConnection(ctx context.Context, endpoint string) (ConnectionID, error)

	// RemoveConnection tears down a connection. Errors are best-effort.
	RemoveConnection(connID ConnectionID) error

	HasConnection(connID ConnectionID) bool
	IsConnectionHandshakeComplete(connID ConnectionID) bool

	// GetConnectionIDByEndpoint returns ErrKeyNotFound if no connection to
	// endpoint currently exists.
	GetConnectionIDByEndpoint(endpoint string) (ConnectionID, error)
	ConnectionIDToEndpoint(connID ConnectionID) (string, error)

	// ConnectionIDToPublicKey returns ("", false) when the connection has
	// no resolvable public key yet.
	ConnectionIDToPublicKey(connID ConnectionID) (string, bool)
	PublicKeyToConnectionID(publicKey string) (ConnectionID, bool)

	// Events returns the channel on which connect_success notifications are
	// delivered. The channel is never closed while the Transport is running.
	Events() <-chan Event
}
