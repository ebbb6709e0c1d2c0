// Package connstate defines the shared connection-status vocabulary and
// the narrow Setter interface Gossip uses to update it without importing
// the connmgr package that owns the status map.
package connstate

import "github.com/paw-chain/gossip-overlay/internal/transport"

// Status is the per-connection lifecycle state tracked by the connection
// manager.
type Status int

const (
	// Temp marks a connection authorized but not yet promoted to peer.
	Temp Status = iota
	// Peer marks a connection registered in Gossip's peer map.
	Peer
	// Closed marks a connection an explicit NetworkDisconnect has been sent on.
	Closed
)

func (s Status) String() string {
	switch s {
	case Temp:
		return "TEMP"
	case Peer:
		return "PEER"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Setter lets Gossip flip a connection's status as a side effect of
// RegisterPeer/UnregisterPeer, while the status map itself stays owned by
// the connection manager under its lock.
type Setter interface {
	SetStatus(connID transport.ConnectionID, status Status)
}
