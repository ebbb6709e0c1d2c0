package gossip

import "fmt"

// RejectReason enumerates why RegisterPeer refused a connection.
type RejectReason string

const (
	ReasonAlreadyConnected RejectReason = "already_connected"
	ReasonMaxReached       RejectReason = "max_reached"
)

// PeerRejectedError is returned by RegisterPeer on refusal.
type PeerRejectedError struct {
	Reason RejectReason
}

func (e *PeerRejectedError) Error() string {
	return fmt.Sprintf("peer rejected: %s", e.Reason)
}

// IsPeerRejected reports whether err is a *PeerRejectedError and, if so,
// which reason.
func IsPeerRejected(err error) (RejectReason, bool) {
	pr, ok := err.(*PeerRejectedError)
	if !ok {
		return "", false
	}
	return pr.Reason, true
}
